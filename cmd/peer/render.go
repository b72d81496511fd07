package main

import (
	"fmt"
	"time"

	"github.com/dkeye/omnio/internal/domain"
)

func renderDocument(d domain.Document) string {
	ts := time.UnixMilli(d.Timestamp).Format("15:04:05")
	lock := ""
	if d.IsSecure {
		lock = "🔒 "
	}
	body := d.Visible()
	if body == nil {
		return fmt.Sprintf("[%s] %s%s: %s", ts, lock, d.Sender, d.Summary())
	}
	var text string
	switch v := body.(type) {
	case domain.TextBody:
		text = v.Text
	case domain.FileBody:
		loc := v.Path
		if loc == "" {
			loc = v.URL
		}
		text = fmt.Sprintf("shared file %q (%d bytes) %s", v.Name, v.Size, loc)
	case domain.StreamBody:
		text = "streaming " + v.URL
		if v.Title != "" {
			text += " (" + v.Title + ")"
		}
	case domain.SignalBody:
		text = "call signal: " + v.Signal
	default:
		text = d.Summary()
	}
	return fmt.Sprintf("[%s] %s%s: %s", ts, lock, d.Sender, text)
}
