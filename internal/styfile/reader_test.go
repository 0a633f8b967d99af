package styfile

import (
	"bytes"
	"errors"
	"testing"
)

func TestExtractEmbeddedMIDI(t *testing.T) {
	prefix := []byte{0x53, 0x54, 0x59, 0x00, 0x01, 0x02} // proprietary junk
	midi := append([]byte("MThd"), 0x00, 0x00, 0x00, 0x06, 0x00, 0x01)
	container := append(append([]byte{}, prefix...), midi...)

	got, err := ExtractEmbeddedMIDI(container)
	if err != nil {
		t.Fatalf("ExtractEmbeddedMIDI: %v", err)
	}
	if !bytes.Equal(got, midi) {
		t.Errorf("extracted %x, want %x", got, midi)
	}
}

func TestExtractEmbeddedMIDIAtOffsetZero(t *testing.T) {
	midi := []byte("MThd\x00\x00\x00\x06")
	got, err := ExtractEmbeddedMIDI(midi)
	if err != nil {
		t.Fatalf("ExtractEmbeddedMIDI: %v", err)
	}
	if !bytes.Equal(got, midi) {
		t.Errorf("extracted %x, want whole input", got)
	}
}

func TestExtractEmbeddedMIDIMissingHeader(t *testing.T) {
	_, err := ExtractEmbeddedMIDI([]byte("STY file with no midi inside"))
	if !errors.Is(err, ErrNoMIDIHeader) {
		t.Errorf("got %v, want ErrNoMIDIHeader", err)
	}
}

func TestExtractEmbeddedMIDIEmptyInput(t *testing.T) {
	if _, err := ExtractEmbeddedMIDI(nil); !errors.Is(err, ErrNoMIDIHeader) {
		t.Errorf("got %v, want ErrNoMIDIHeader", err)
	}
}
