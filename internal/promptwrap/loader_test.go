package promptwrap

import (
	"context"
	"errors"
	"testing"
)

type fakeReader struct {
	objects map[string][]byte
	reads   []string
}

func (f *fakeReader) ReadObject(ctx context.Context, bucket, key, versionID string) ([]byte, error) {
	id := bucket + "/" + key + "@" + versionID
	f.reads = append(f.reads, id)
	body, ok := f.objects[id]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return body, nil
}

func TestObjectStoreLoader_ResolvesPointer(t *testing.T) {
	reader := &fakeReader{objects: map[string][]byte{
		"eval-config/prompt-rules/current.json@": []byte(`{"bucket":"rules","key":"v3.json","version":"7"}`),
		"rules/v3.json@7":                        []byte(anthropicRules),
	}}
	w := New(ObjectStoreLoader{Reader: reader, PointerBucket: "eval-config", PointerKey: "prompt-rules/current.json"})

	got, err := w.Wrap(context.Background(), "anthropic.claude-x", "hi")
	if err != nil {
		t.Fatalf("Wrap() err=%v", err)
	}
	if got != "Human: hi\n\nAssistant:" {
		t.Fatalf("Wrap()=%q", got)
	}
	if len(reader.reads) != 2 {
		t.Fatalf("reads=%v, want pointer then document", reader.reads)
	}
}

func TestObjectStoreLoader_DefaultsBucketToPointerBucket(t *testing.T) {
	reader := &fakeReader{objects: map[string][]byte{
		"eval-config/ptr.json@":   []byte(`{"key":"rules.json"}`),
		"eval-config/rules.json@": []byte(anthropicRules),
	}}
	loader := ObjectStoreLoader{Reader: reader, PointerBucket: "eval-config", PointerKey: "ptr.json"}
	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load() err=%v", err)
	}
}

func TestObjectStoreLoader_Errors(t *testing.T) {
	cases := map[string]map[string][]byte{
		"missing pointer":  {},
		"bad pointer":      {"c/p@": []byte(`not json`)},
		"pointer no key":   {"c/p@": []byte(`{"bucket":"c"}`)},
		"missing document": {"c/p@": []byte(`{"key":"gone.json"}`)},
	}
	for name, objects := range cases {
		t.Run(name, func(t *testing.T) {
			loader := ObjectStoreLoader{Reader: &fakeReader{objects: objects}, PointerBucket: "c", PointerKey: "p"}
			if _, err := loader.Load(context.Background()); err == nil {
				t.Fatalf("Load() expected error")
			}
		})
	}
}
