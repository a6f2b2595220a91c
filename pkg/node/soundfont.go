package node

import (
	"bytes"
	"fmt"
	"os"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/tutti-audio/tutti-core/pkg/fileutil"
)

// LoadSoundFont reads and parses a SoundFont (.sf2) through fs, falling
// back to os.ReadFile when fs is nil, the same real-vs-embedded split
// the teacher's loader used.
func LoadSoundFont(fs fileutil.FileSystem, path string) (*meltysynth.SoundFont, error) {
	var data []byte
	var err error
	if fs == nil {
		data, err = os.ReadFile(path)
	} else {
		data, err = fs.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("node: read soundfont %q: %w", path, err)
	}

	sf2, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("node: parse soundfont %q: %w", path, err)
	}
	return sf2, nil
}
