package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// UploadImageHandler routes an image upload to cloud or local storage
// based on environment. Cloud Run sets K_SERVICE; explicit opt-in via
// USE_GCS also works.
func UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	useGCS := os.Getenv("USE_GCS") == "true" ||
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" ||
		os.Getenv("K_SERVICE") != ""

	if useGCS {
		UploadImageGCS(w, r)
	} else {
		UploadImageLocal(w, r)
	}
}

// allowedImageExt screens uploads: the engine treats refs as opaque, but
// only photographs belong in a work order.
var allowedImageExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

func validImageName(filename string) bool {
	return allowedImageExt[strings.ToLower(filepath.Ext(filename))]
}
