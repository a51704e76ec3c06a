package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
)

// UploadImageGCS stores an uploaded image in the configured Google Cloud
// Storage bucket and returns its public URL.
func UploadImageGCS(w http.ResponseWriter, r *http.Request) {
	bucketName := os.Getenv("GCS_BUCKET")
	if bucketName == "" {
		http.Error(w, "GCS_BUCKET not configured", http.StatusInternalServerError)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "bad multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !validImageName(header.Filename) {
		http.Error(w, "only image files are accepted", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	client, err := storage.NewClient(ctx)
	if err != nil {
		http.Error(w, "storage client: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer client.Close()

	objectName := fmt.Sprintf("workorders/%s-%s",
		time.Now().Format("20060102-150405.000"), filepath.Base(header.Filename))

	obj := client.Bucket(bucketName).Object(objectName)
	wc := obj.NewWriter(ctx)
	wc.ContentType = header.Header.Get("Content-Type")
	if _, err := io.Copy(wc, file); err != nil {
		wc.Close()
		http.Error(w, "failed to upload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := wc.Close(); err != nil {
		http.Error(w, "failed to finalize upload: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url":      fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucketName, objectName),
		"filename": objectName,
	})
}
