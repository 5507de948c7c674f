package server

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"binwalk-web/internal/engine"
)

const downloadPrefix = "/api/download/"

// harvestedFile is one engine output file read into memory, not yet
// registered in the blob store.
type harvestedFile struct {
	ExtractionID string
	Name         string
	Data         []byte
}

// collectArtifacts reads every regular file directly inside each
// extraction's output directory. Extraction IDs are visited in sorted
// order and files in directory (name) order, so results are
// deterministic. Missing, empty or unreadable directories and files are
// skipped; each skip is reported as an ErrHarvestIO-wrapped error and
// never fails the analysis.
func collectArtifacts(extractions map[string]engine.Extraction) ([]harvestedFile, []error) {
	ids := make([]string, 0, len(extractions))
	for id := range extractions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		files   []harvestedFile
		skipped []error
	)
	for _, id := range ids {
		dir := extractions[id].OutputDirectory
		if dir == "" {
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%w: extraction %s: %v", ErrHarvestIO, id, err))
			continue
		}

		for _, entry := range entries {
			// Symlinks and directories are not artifacts. Lstat-based
			// type bits keep a symlink from pointing the harvester at
			// arbitrary host files.
			if !entry.Type().IsRegular() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				skipped = append(skipped, fmt.Errorf("%w: extraction %s: %v", ErrHarvestIO, id, err))
				continue
			}
			files = append(files, harvestedFile{ExtractionID: id, Name: entry.Name(), Data: data})
		}
	}
	return files, skipped
}

// registeredArtifact is a harvested file after it got its token.
type registeredArtifact struct {
	harvestedFile
	Token string
}

// registerArtifacts stores each file under a fresh token and builds both
// response maps. extractions keeps one URL per ID: the last file in
// harvest order wins. files keeps every URL in harvest order.
func (s *Server) registerArtifacts(harvested []harvestedFile) (extractions map[string]string, files map[string][]string, registered []registeredArtifact) {
	extractions = make(map[string]string)
	files = make(map[string][]string)
	registered = make([]registeredArtifact, 0, len(harvested))

	for _, f := range harvested {
		token := s.store.Put(f.Data)
		url := downloadPrefix + token
		extractions[f.ExtractionID] = url
		files[f.ExtractionID] = append(files[f.ExtractionID], url)
		registered = append(registered, registeredArtifact{harvestedFile: f, Token: token})
	}
	return extractions, files, registered
}
