package utils

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// QRDataURL renders an authentication challenge as a PNG data URL suitable
// for direct use in an <img> tag.
func QRDataURL(code string) (string, error) {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code: %v", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate PNG: %v", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
