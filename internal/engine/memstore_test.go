package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestMemStore_GetApplyDelete(t *testing.T) {
	ms := NewMemStore(nil, nil)

	err := ms.Apply("ch1", []Write{{Key: "k1", Value: "v1"}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, ok, err := ms.Get("ch1", "k1")
	if err != nil || !ok {
		t.Fatalf("Get failed: %v, %v", ok, err)
	}
	if got != "v1" {
		t.Errorf("Expected v1, got %v", got)
	}

	_, ok, _ = ms.Get("ch1", "non-existent")
	if ok {
		t.Error("Expected missing key")
	}
	_, ok, _ = ms.Get("no-channel", "k1")
	if ok {
		t.Error("Expected missing channel to have no keys")
	}

	err = ms.Apply("ch1", []Write{{Key: "k1", Delete: true}})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, ok, _ = ms.Get("ch1", "k1")
	if ok {
		t.Error("Expected key to be gone after delete")
	}
}

func TestMemStore_RangeIsLexical(t *testing.T) {
	ms := NewMemStore(nil, nil)
	ms.Apply("ch1", []Write{
		{Key: "user3", Value: "c"},
		{Key: "user1", Value: "a"},
		{Key: "user10", Value: "j"},
		{Key: "user2", Value: "b"},
	})

	all, err := ms.Range("ch1", "", "")
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	want := []string{"user1", "user10", "user2", "user3"}
	if len(all) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(all))
	}
	for i, kv := range all {
		if kv.Key != want[i] {
			t.Errorf("Entry %d: expected %s, got %s", i, want[i], kv.Key)
		}
	}

	part, _ := ms.Range("ch1", "user10", "user3")
	if len(part) != 2 || part[0].Key != "user10" || part[1].Key != "user2" {
		t.Errorf("Unexpected bounded range: %v", part)
	}

	none, _ := ms.Range("missing", "", "")
	if len(none) != 0 {
		t.Errorf("Expected empty range for unknown channel, got %v", none)
	}
}

func TestMemStore_Channels(t *testing.T) {
	ms := NewMemStore(nil, nil)
	ms.Apply("b", []Write{{Key: "k", Value: "v"}})
	ms.Apply("a", []Write{{Key: "k", Value: "v"}})

	channels, _ := ms.Channels()
	if len(channels) != 2 || channels[0] != "a" || channels[1] != "b" {
		t.Errorf("Expected [a b], got %v", channels)
	}
}

func TestPersistence(t *testing.T) {
	tmpDir := t.TempDir()

	p, err := NewPersistence(tmpDir, nil)
	if err != nil {
		t.Fatalf("NewPersistence failed: %v", err)
	}

	err = p.SaveChannel("ch1", map[string]string{"key1": "val1"})
	if err != nil {
		t.Fatalf("SaveChannel failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "ch1.json")); os.IsNotExist(err) {
		t.Fatal("Channel file was not created")
	}

	allData, err := p.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(allData) != 1 {
		t.Errorf("Expected 1 channel, got %d", len(allData))
	}
	if allData["ch1"]["key1"] != "val1" {
		t.Errorf("Loaded data mismatch: %v", allData["ch1"])
	}
}

func TestPersistence_SkipsCorruptFiles(t *testing.T) {
	tmpDir := t.TempDir()
	p, _ := NewPersistence(tmpDir, nil)

	os.WriteFile(filepath.Join(tmpDir, "broken.json"), []byte("{not json"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("ignored"), 0644)
	p.SaveChannel("good", map[string]string{"k": "v"})

	allData, err := p.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(allData) != 1 || allData["good"]["k"] != "v" {
		t.Errorf("Expected only the good channel, got %v", allData)
	}
}

func TestPersistence_Encrypted(t *testing.T) {
	tmpDir := t.TempDir()
	key := []byte("thisis32byteslongsecretkey123456")

	p, err := NewPersistence(tmpDir, key)
	if err != nil {
		t.Fatalf("NewPersistence failed: %v", err)
	}
	if err := p.SaveChannel("ch1", map[string]string{"user1": "secret-record"}); err != nil {
		t.Fatalf("SaveChannel failed: %v", err)
	}

	raw, _ := os.ReadFile(filepath.Join(tmpDir, "ch1.json"))
	if len(raw) == 0 {
		t.Fatal("Snapshot is empty")
	}
	for _, needle := range []string{"user1", "secret-record"} {
		if strings.Contains(string(raw), needle) {
			t.Errorf("Snapshot leaks %q in plaintext", needle)
		}
	}

	allData, _ := p.LoadAll()
	if allData["ch1"]["user1"] != "secret-record" {
		t.Errorf("Decrypted data mismatch: %v", allData)
	}

	wrong, _ := NewPersistence(tmpDir, []byte("another32byteslongsecretkey65432"))
	allData, _ = wrong.LoadAll()
	if len(allData) != 0 {
		t.Errorf("Expected wrong key to skip snapshot, got %v", allData)
	}

	if _, err := NewPersistence(tmpDir, []byte("short")); err == nil {
		t.Error("Expected short key to be rejected")
	}
}

func TestMemStore_Persistence(t *testing.T) {
	tmpDir := t.TempDir()

	p, _ := NewPersistence(tmpDir, nil)
	ms := NewMemStore(nil, p)

	if err := ms.Apply("ch1", []Write{{Key: "k1", Value: "v1"}}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	ms.Wait() // Wait for background persistence

	allData, _ := p.LoadAll()
	ms2 := NewMemStore(allData, p)

	val, ok, err := ms2.Get("ch1", "k1")
	if err != nil || !ok {
		t.Fatalf("Get on new store failed: %v", err)
	}
	if val != "v1" {
		t.Errorf("Expected v1, got %v", val)
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	ms := NewMemStore(nil, nil)
	const (
		numGoroutines = 10
		numOps        = 100
	)
	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*numOps)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				key := fmt.Sprintf("key-%d-%d", id, j)
				val := fmt.Sprint(j)
				ms.Apply("ch1", []Write{{Key: key, Value: val}})
				got, ok, err := ms.Get("ch1", key)
				if err != nil || !ok || got != val {
					errs <- fmt.Errorf("expected %s, got %v (ok=%v, err=%v)", val, got, ok, err)
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestMigrate(t *testing.T) {
	src := NewMemStore(nil, nil)
	src.Apply("ch1", []Write{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}})
	src.Apply("ch2", []Write{{Key: "k3", Value: "v3"}})
	dst := NewMemStore(nil, nil)

	n, err := Migrate(src, dst)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 entries copied, got %d", n)
	}

	val, ok, _ := dst.Get("ch2", "k3")
	if !ok || val != "v3" {
		t.Errorf("Destination missing ch2/k3: %v", val)
	}
}
