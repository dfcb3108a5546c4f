package textutil

import (
	"reflect"
	"testing"
)

func TestCompactStringMap(t *testing.T) {
	t.Run("trims and drops empty entries", func(t *testing.T) {
		input := map[string]string{
			" source ": " newsletter ",
			"campaign": "autumn",
			"empty":    " ",
			" ":        "ignored",
			"":         "ignore",
		}

		expected := map[string]string{
			"source":   "newsletter",
			"campaign": "autumn",
		}

		actual := CompactStringMap(input, 0, 0)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("applies key and value limits", func(t *testing.T) {
		input := map[string]string{
			"note":            "Möbelstück",
			"a-very-long-key": "dropped",
		}

		actual := CompactStringMap(input, 8, 5)
		expected := map[string]string{"note": "Möbel"}
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if CompactStringMap(nil, 0, 0) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if CompactStringMap(map[string]string{" ": " "}, 0, 0) != nil {
			t.Fatalf("expected nil when every entry is dropped")
		}
	})
}
