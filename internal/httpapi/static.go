package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

// The widget page is a thin view over the websocket API.
//
//go:embed static/*
var widgetAssets embed.FS

func newStaticHandler() http.Handler {
	sub, err := fs.Sub(widgetAssets, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.FS(sub))
}
