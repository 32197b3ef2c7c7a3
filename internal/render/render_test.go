package render

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestMulti_FansOutInOrderAndSkipsNil(t *testing.T) {
	var order []string
	a := Func(func(t LoadedTile) { order = append(order, "a:"+t.ID) })
	b := Func(func(t LoadedTile) { order = append(order, "b:"+t.ID) })

	Multi{a, nil, b}.AddTile(LoadedTile{ID: "x"})

	if strings.Join(order, ",") != "a:x,b:x" {
		t.Fatalf("order=%v", order)
	}
}

func TestRecorder_ReturnsCopy(t *testing.T) {
	r := &Recorder{}
	r.AddTile(LoadedTile{ID: "1"})
	got := r.Tiles()
	got[0].ID = "changed"
	if r.Tiles()[0].ID != "1" {
		t.Fatal("Tiles exposed internal slice")
	}
}

func TestLogSink_LogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	NewLogSink(l).AddTile(LoadedTile{ID: "r0", Depth: 2, Geometry: []byte{1, 2, 3}})

	out := buf.String()
	if !strings.Contains(out, `"tile_id":"r0"`) || !strings.Contains(out, `"bytes":3`) {
		t.Fatalf("log=%s", out)
	}
}
