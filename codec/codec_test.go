package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestByName(t *testing.T) {
	for name, want := range map[string]Codec{"": JSON, "json": JSON, "msgpack": MsgPack} {
		got, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if got.Name() != want.Name() {
			t.Errorf("ByName(%q) = %s; want %s", name, got.Name(), want.Name())
		}
	}

	if _, err := ByName("xml"); err == nil {
		t.Errorf("expected an error for an unsupported codec")
	}
}

func TestMerge(t *testing.T) {
	type payload struct {
		Name string `json:"name" msgpack:"name"`
		Age  int    `json:"age" msgpack:"age"`
	}

	for _, c := range []Codec{JSON, MsgPack} {
		t.Run(c.Name(), func(t *testing.T) {
			raw, err := Merge(c, payload{Name: "ann", Age: 31}, map[string]interface{}{"_key": "a", "name": "bob"})
			if err != nil {
				t.Fatalf("merge failed: %v", err)
			}

			var got struct {
				Key  string `json:"_key" msgpack:"_key"`
				Name string `json:"name" msgpack:"name"`
				Age  int    `json:"age" msgpack:"age"`
			}
			if err = c.Unmarshal(raw, &got); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got.Key != "a" || got.Name != "bob" || got.Age != 31 {
				t.Errorf("unexpected merge result: %+v", got)
			}
		})
	}
}

func TestMergeNilBase(t *testing.T) {
	raw, err := Merge(JSON, nil, map[string]interface{}{"_from": "person/a"})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	var got map[string]interface{}
	if err = JSON.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(map[string]interface{}{"_from": "person/a"}, got); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestMergeRejectsScalars(t *testing.T) {
	if _, err := Merge(JSON, 42, map[string]interface{}{"_key": "a"}); err == nil {
		t.Errorf("expected an error for a non-object payload")
	}
}
