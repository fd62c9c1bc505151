/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Seednode/plaguecourt/internal/identity"
	"github.com/Seednode/plaguecourt/internal/relay"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

func lookupSession(relaySrv *relay.Server, w http.ResponseWriter, p httprouter.Params) (relay.SessionInfo, bool) {
	code := strings.ToUpper(p.ByName("code"))
	if !identity.ValidSessionCode(code) {
		http.Error(w, "invalid session code", http.StatusBadRequest)
		return relay.SessionInfo{}, false
	}

	info, ok := relaySrv.Lookup(code)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return relay.SessionInfo{}, false
	}

	return info, true
}

func serveSession(cfg *Config, relaySrv *relay.Server, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		info, ok := lookupSession(relaySrv, w, p)
		if !ok {
			return
		}

		data, err := json.Marshal(info)
		if err != nil {
			errs <- err
			http.Error(w, "encoding failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Session %s (%s) to %s in %s",
			info.Code,
			humanReadableSize(written),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveSessionQR renders the session's info URL as a PNG QR code.
func serveSessionQR(cfg *Config, relaySrv *relay.Server, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		info, ok := lookupSession(relaySrv, w, p)
		if !ok {
			return
		}

		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/session/" + info.Code

		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			errs <- err
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		_, err = w.Write(png)
		if err != nil {
			errs <- err
		}
	}
}
