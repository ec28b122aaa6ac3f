package service

import "net/http"

// acceptedImageTypes is the set of sniffed MIME types accepted for
// screenshots. DetectContentType covers JPEG, PNG and GIF; WebP has no
// WHATWG sniff signature so isWebP handles it.
var acceptedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a RIFF container tagged WEBP.
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// DetectImageMIME returns the MIME type of data and true if it is an
// accepted screenshot format.
func DetectImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if acceptedImageTypes[mime] {
		return mime, true
	}
	return "", false
}
