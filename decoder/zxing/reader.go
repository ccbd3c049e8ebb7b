package zxing

import (
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/multi"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// formatReader tries each delegate in turn and returns the first successful decode.
type formatReader struct {
	readers []gozxing.Reader
}

// defaultReaders covers the 2D matrix codes and the common 1D product/industrial codes.
func defaultReaders(hints map[gozxing.DecodeHintType]interface{}) []gozxing.Reader {
	return []gozxing.Reader{
		qrcode.NewQRCodeReader(),
		datamatrix.NewDataMatrixReader(),
		oned.NewMultiFormatUPCEANReader(hints),
		oned.NewCode128Reader(),
		oned.NewCode39Reader(),
		oned.NewCode93Reader(),
		oned.NewITFReader(),
		oned.NewCodaBarReader(),
	}
}

// defaultMultiReader finds every QR code in a bitmap. The engine has no multi-result
// support for the other symbologies; those are left to the single-result pass.
func defaultMultiReader() multi.MultipleBarcodeReader {
	return multiqr.NewQRCodeMultiReader()
}

func (r *formatReader) DecodeWithoutHints(image *gozxing.BinaryBitmap) (*gozxing.Result, error) {
	return r.Decode(image, nil)
}

func (r *formatReader) Decode(image *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) (*gozxing.Result, error) {
	var first, fault error
	for _, reader := range r.readers {
		result, err := reader.Decode(image, hints)
		if err == nil {
			return result, nil
		}
		if first == nil {
			first = err
		}
		if !notFound(err) {
			fault = err
		}
	}
	if fault != nil {
		return nil, fault
	}
	return nil, first
}

func (r *formatReader) Reset() {
	for _, reader := range r.readers {
		reader.Reset()
	}
}

// notFound reports the engine-level conditions that mean "nothing decodable here".
func notFound(err error) bool {
	switch err.(type) {
	case gozxing.NotFoundException, gozxing.FormatException, gozxing.ChecksumException:
		return true
	}
	return false
}
