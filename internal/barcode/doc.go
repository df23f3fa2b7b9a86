// Package barcode decodes 2D symbols from camera frames.
//
// The gozxing backend is pure Go and is always linked. QR is the default
// symbology; Data Matrix and Aztec can be enabled through Options.Formats.
// Detector adapts a Backend to the scan detector contract.
package barcode
