package utils

import qrcode "github.com/skip2/go-qrcode"

// qrSize is the side length in pixels of generated QR PNGs. Large enough
// to scan reliably from a phone screen at the door.
const qrSize = 512

// RenderTicketQR encodes a ticket id as a PNG QR code and returns the
// image bytes.
func RenderTicketQR(ticketID string) ([]byte, error) {
	return qrcode.Encode(ticketID, qrcode.Medium, qrSize)
}

// WriteTicketQR renders the ticket QR and writes it to path.
func WriteTicketQR(ticketID, path string) error {
	return qrcode.WriteFile(ticketID, qrcode.Medium, qrSize, path)
}
