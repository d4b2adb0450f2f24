package utils

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestQRDataURL(t *testing.T) {
	dataURL, err := QRDataURL("2@abcdefg,hijklmn,opqrstu")
	if err != nil {
		t.Fatalf("QRDataURL: %v", err)
	}

	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		t.Fatalf("missing data URL prefix: %q", dataURL[:30])
	}

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Fatal("payload is not a PNG image")
	}
}

func TestQRDataURLEmptyCode(t *testing.T) {
	if _, err := QRDataURL(""); err == nil {
		t.Fatal("expected error for empty code")
	}
}
