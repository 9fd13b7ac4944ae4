package objectstore

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"labpipe/internal/kinderrors"
)

// ValidatePDF rejects a malformed or unreadable PDF before it is ever
// uploaded to the object store or handed to OCR, so a corrupt upload fails
// fast with InputInvalid instead of surfacing as an opaque OCRPermanent
// failure several stages downstream.
func ValidatePDF(bytesIn []byte) error {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(bytesIn), conf)
	if err != nil {
		return kinderrors.New(kinderrors.InputInvalid, "objectstore.ValidatePDF", err)
	}
	if ctx.PageCount == 0 {
		return kinderrors.New(kinderrors.InputInvalid, "objectstore.ValidatePDF", fmt.Errorf("pdf has zero pages"))
	}
	return nil
}
