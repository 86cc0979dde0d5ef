package common

import "testing"

func TestConstantsValues(t *testing.T) {
	if ContentTypeJSON != "application/json" {
		t.Fatalf("ContentTypeJSON = %q", ContentTypeJSON)
	}
	if HeaderAPIKey != "X-API-Key" {
		t.Fatalf("HeaderAPIKey = %q", HeaderAPIKey)
	}
	if PathHealthz != "/healthz" || PathAPIPrefix != "/v1" {
		t.Fatalf("paths mismatch: %q, %q", PathHealthz, PathAPIPrefix)
	}
	if DefaultQueueCapacity <= 0 || DefaultWorkerCount <= 0 || DefaultJobsKept <= 0 || DefaultBatchSize <= 0 {
		t.Fatalf("defaults should be positive")
	}
	if MimeImagePNG != "image/png" || MimeImageJPEG != "image/jpeg" || MimeImageWebP != "image/webp" {
		t.Fatalf("mime constants mismatch")
	}
	if DraftsDirName == "" || ImagesDirName == "" || PinsDirName == "" {
		t.Fatalf("dir names should be non-empty")
	}
}

func TestCronLogger_DiscardsWithoutPanic(t *testing.T) {
	l := NewCronLogger(nil)
	l.Info("tick", "entries", 1)
	l.Error(nil, "failed", "k", "v")
}
