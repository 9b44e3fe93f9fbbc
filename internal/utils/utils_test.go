package utils

import (
	"bufio"
	"bytes"
	"context"
	"slices"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpeg_BackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}
	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, a...), b...)))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 || !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Expected two frames, got %X", got)
	}
}

func TestSnapshotID(t *testing.T) {
	data := []byte("Timestamp,Detected Object,Emotion\n")
	id := SnapshotID(data)
	if id == "" || len(id) != 64 {
		t.Fatalf("Unexpected id %q", id)
	}

	// Verify Determinism
	if id2 := SnapshotID(data); id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	if id3 := SnapshotID(append(data, []byte("2024-01-01 00:00:00,book,sad\n")...)); id == id3 {
		t.Error("Hash did not change after content modification")
	}
}

func TestNewCaptureCmd(t *testing.T) {
	ctx := context.Background()

	fileCmd := NewCaptureCmd(ctx, CaptureInput{File: "clip.mp4", Device: "/dev/video0"})
	if !slices.Contains(fileCmd.Args, "clip.mp4") || slices.Contains(fileCmd.Args, "/dev/video0") {
		t.Errorf("File input should take precedence: %v", fileCmd.Args)
	}

	devCmd := NewCaptureCmd(ctx, CaptureInput{Device: "/dev/video0", FPS: 30})
	if !slices.Contains(devCmd.Args, "/dev/video0") || !slices.Contains(devCmd.Args, "-framerate") {
		t.Errorf("Device args missing: %v", devCmd.Args)
	}
	if devCmd.Args[len(devCmd.Args)-1] != "-" {
		t.Errorf("Expected output to stdout, got %v", devCmd.Args)
	}
	if devCmd.Stderr == nil {
		t.Error("Stderr buffer not attached")
	}
}
