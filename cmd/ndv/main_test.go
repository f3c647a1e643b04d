package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage/npy"
)

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	vals := make([]float64, 12)
	for i := range vals {
		vals[i] = float64(i)
	}
	arr, err := ndv.ArrayFromFloat64s(ndv.Int16, []int{3, 4}, vals)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	data, err := npy.Marshal(arr)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.npy"), data, 0644); err != nil {
		t.Fatalf("%v\n", err)
	}
	oldRoot := *rootDir
	*rootDir = dir
	defer func() { *rootDir = oldRoot }()

	if err := DoCommand(Command{"meta", "npy", "a.npy", "/", "1:"}); err != nil {
		t.Errorf("meta command failed: %v\n", err)
	}
	if err := DoCommand(Command{"stats", "npy", "a.npy"}); err != nil {
		t.Errorf("stats command failed: %v\n", err)
	}
	outPath := filepath.Join(dir, "out.npy")
	if err := DoCommand(Command{"slice", "npy", "a.npy", "/", "::-1, 2", outPath}); err != nil {
		t.Fatalf("slice command failed: %v\n", err)
	}
	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	defer f.Close()
	sliced, err := npy.Decode(f)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	got, err := sliced.Float64s()
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if !reflect.DeepEqual(got, []float64{10, 6, 2}) {
		t.Errorf("expected sliced values [10 6 2], got %v\n", got)
	}

	if err := DoCommand(Command{"slice", "npy", "a.npy"}); err == nil {
		t.Errorf("expected error for slice without output\n")
	}
	if err := DoCommand(Command{"meta", "npy", "missing.npy"}); err == nil {
		t.Errorf("expected error for missing file\n")
	}
	if err := DoCommand(Command{"frobnicate"}); err == nil {
		t.Errorf("expected error for unknown command\n")
	}
	if err := DoCommand(Command{"about"}); err != nil {
		t.Errorf("about command failed: %v\n", err)
	}
}
