// Package quality measures closed segments before enhancement: peak and RMS
// level, an SNR estimate from the quietest samples, and the share of spectral
// power inside the speech band. Reports are logged and exported as metrics.
package quality
