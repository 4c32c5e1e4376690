package voiceprint

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FbankConfig controls log-mel filterbank extraction.
type FbankConfig struct {
	SampleRate  int     // input sample rate in Hz (default 16000)
	WindowSize  int     // window length in samples (default 400 = 25ms)
	HopSize     int     // hop length in samples (default 160 = 10ms)
	FFTSize     int     // FFT size, power of two (default 512)
	NumMels     int     // number of mel bins (default 80)
	LowFreq     float64 // lowest filter edge in Hz (default 0)
	HighFreq    float64 // highest filter edge in Hz (default 8000)
	PreEmphasis float64 // pre-emphasis coefficient (default 0.97)
}

// DefaultFbankConfig matches the 80-bin front end ECAPA-TDNN models are trained with.
func DefaultFbankConfig() FbankConfig {
	return FbankConfig{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     0,
		HighFreq:    8000,
		PreEmphasis: 0.97,
	}
}

// Fbank computes log-mel filterbank features. It is safe for concurrent
// use; per-call buffers are allocated in Extract.
type Fbank struct {
	cfg     FbankConfig
	window  []float64
	melBank [][]float64
}

// NewFbank precomputes the window and filterbank for cfg.
func NewFbank(cfg FbankConfig) *Fbank {
	return &Fbank{
		cfg:     cfg,
		window:  hammingWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}
}

// NumMels returns the feature width.
func (f *Fbank) NumMels() int {
	return f.cfg.NumMels
}

// Extract returns [T][NumMels] log energies for samples in [-1, 1], where
// T = (len(samples) - WindowSize) / HopSize + 1. Returns nil when the input
// is shorter than one window.
func (f *Fbank) Extract(samples []float32) [][]float32 {
	cfg := f.cfg
	if len(samples) < cfg.WindowSize {
		return nil
	}

	numFrames := (len(samples)-cfg.WindowSize)/cfg.HopSize + 1
	fft := fourier.NewFFT(cfg.FFTSize)
	frame := make([]float64, cfg.FFTSize)
	coeffs := make([]complex128, cfg.FFTSize/2+1)
	features := make([][]float32, numFrames)

	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize
		for i := 0; i < cfg.WindowSize; i++ {
			s := float64(samples[start+i])
			if i > 0 {
				s -= cfg.PreEmphasis * float64(samples[start+i-1])
			}
			frame[i] = s * f.window[i]
		}
		for i := cfg.WindowSize; i < cfg.FFTSize; i++ {
			frame[i] = 0
		}

		coeffs = fft.Coefficients(coeffs, frame)

		mel := make([]float32, cfg.NumMels)
		for m, filter := range f.melBank {
			var sum float64
			for k, w := range filter {
				if w == 0 {
					continue
				}
				c := coeffs[k]
				sum += w * (real(c)*real(c) + imag(c)*imag(c))
			}
			if sum < 1e-10 {
				sum = 1e-10
			}
			mel[m] = float32(math.Log(sum))
		}
		features[t] = mel
	}
	return features
}

// SubtractMean applies per-utterance mean normalisation in place.
func SubtractMean(features [][]float32) {
	if len(features) == 0 {
		return
	}
	numMels := len(features[0])
	for m := 0; m < numMels; m++ {
		var sum float64
		for _, row := range features {
			sum += float64(row[m])
		}
		mean := float32(sum / float64(len(features)))
		for _, row := range features {
			row[m] -= mean
		}
	}
}

// Flatten converts [T][M] features to a row-major [T*M] slice.
func Flatten(features [][]float32) []float32 {
	if len(features) == 0 {
		return nil
	}
	cols := len(features[0])
	flat := make([]float32, len(features)*cols)
	for t, row := range features {
		copy(flat[t*cols:], row)
	}
	return flat
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank returns [numMels][fftSize/2+1] triangular filters.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	bins := make([]int, numMels+2)
	step := (highMel - lowMel) / float64(numMels+1)
	for i := range bins {
		hz := melToHz(lowMel + float64(i)*step)
		bin := int(math.Round(hz * float64(fftSize) / float64(sampleRate)))
		if bin >= halfFFT {
			bin = halfFFT - 1
		}
		bins[i] = bin
	}
	// Every filter needs a non-zero width.
	for i := 1; i < len(bins); i++ {
		if bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		filter := make([]float64, halfFFT)
		left, center, right := bins[m], bins[m+1], bins[m+2]
		for k := left; k < center && k < halfFFT; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < halfFFT; k++ {
			filter[k] = float64(right-k) / float64(right-center)
		}
		bank[m] = filter
	}
	return bank
}
