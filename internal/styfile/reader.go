// Package styfile reads Yamaha style (.sty) containers. A .sty file is
// proprietary metadata followed by a standard MIDI stream; the MIDI part
// starts at the first MThd header chunk.
package styfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

var midiHeader = []byte("MThd")

// ErrNoMIDIHeader means the container holds no MThd chunk at all.
var ErrNoMIDIHeader = errors.New("no MIDI header (MThd) found in style file")

// ExtractEmbeddedMIDI returns the byte slice from the MThd marker to the
// end of the container. The extracted stream is not validated further;
// a malformed payload surfaces later as a renderer failure.
func ExtractEmbeddedMIDI(container []byte) ([]byte, error) {
	idx := bytes.Index(container, midiHeader)
	if idx == -1 {
		return nil, ErrNoMIDIHeader
	}
	return container[idx:], nil
}

// ExtractToFile reads a .sty container and writes the embedded MIDI
// stream to midPath.
func ExtractToFile(styPath, midPath string) error {
	data, err := os.ReadFile(styPath)
	if err != nil {
		return fmt.Errorf("read style file: %w", err)
	}
	midiData, err := ExtractEmbeddedMIDI(data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(midPath, midiData, 0644); err != nil {
		return fmt.Errorf("write extracted midi: %w", err)
	}
	return nil
}
