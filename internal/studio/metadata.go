package studio

import (
	"log"
	"os"
	"path/filepath"

	"github.com/dhowden/tag"
)

// logMetadata logs title and artist of the file being uploaded when its tags
// are readable. Untagged files are common and not an error.
func logMetadata(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil || m.Title() == "" {
		log.Printf("Uploading %s", filepath.Base(path))
		return
	}
	artist := m.Artist()
	if artist == "" {
		artist = "unknown artist"
	}
	log.Printf("Uploading %q by %s (%s)", m.Title(), artist, m.FileType())
}
