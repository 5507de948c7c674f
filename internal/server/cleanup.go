package server

import (
	"context"
	"log"
	"time"

	"binwalk-web/internal/blobstore"
)

// StartBlobSweeper periodically drops artifacts older than the store's
// max age. It blocks until ctx is cancelled; run it in a goroutine. With
// no max age configured it logs once and returns.
func StartBlobSweeper(ctx context.Context, store *blobstore.MemoryStore, interval, maxAge time.Duration) {
	if maxAge <= 0 {
		log.Printf("service=cleanup msg=%q", "disabled")
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	log.Printf("service=cleanup msg=%q interval=%s max_age=%s",
		"starting", interval, maxAge)

	store.StartSweeper(ctx, interval, func(removed int) {
		if removed == 0 {
			return
		}
		st := store.Stats()
		log.Printf("service=cleanup msg=%q removed=%d entries=%d bytes=%d",
			"expired_artifacts_removed", removed, st.Entries, st.Bytes)
	})

	log.Printf("service=cleanup msg=%q", "shutting_down")
}
