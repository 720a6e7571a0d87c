package sync

import (
	"bytes"
	"testing"

	"github.com/tangramdotdev/tangram/internal/id"
)

func TestEncodeDecodeGetItem(t *testing.T) {
	objID := id.New(id.KindFile, []byte("get item test"))
	m := &Message{Kind: MessageGet, Get: &GetMessage{
		Kind: GetItem,
		Item: &GetItemMessage{Kind: ItemObject, ID: objID, Eager: true},
	}}
	got, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != MessageGet || got.Get.Kind != GetItem {
		t.Fatalf("got %+v", got)
	}
	if got.Get.Item.ID != objID || !got.Get.Item.Eager {
		t.Fatalf("got %+v, want id %v eager=true", got.Get.Item, objID)
	}
}

func TestEncodeDecodeGetComplete(t *testing.T) {
	procID := id.New(id.KindProcess, []byte("proc"))
	m := &Message{Kind: MessageGet, Get: &GetMessage{
		Kind: GetComplete,
		Complete: &GetCompleteMessage{
			Kind:                     ItemProcess,
			ID:                       procID,
			ChildrenComplete:         true,
			CommandComplete:          false,
			ChildrenCommandsComplete: true,
			OutputComplete:           false,
			ChildrenOutputsComplete:  true,
		},
	}}
	got, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	c := got.Get.Complete
	if c.ID != procID {
		t.Fatalf("id mismatch: got %v, want %v", c.ID, procID)
	}
	if !c.ChildrenComplete || c.CommandComplete || !c.ChildrenCommandsComplete || c.OutputComplete || !c.ChildrenOutputsComplete {
		t.Fatalf("completeness flags not round-tripped: %+v", c)
	}
}

func TestEncodeDecodePutItemWithBytes(t *testing.T) {
	objID := id.New(id.KindBlob, []byte("put item test"))
	payload := []byte{0x00, 0x01, 0x02, 0x03, 0xff}
	m := &Message{Kind: MessagePut, Put: &PutMessage{
		Kind: PutItem,
		Item: &PutItemMessage{Kind: ItemObject, ID: objID, Bytes: payload},
	}}
	got, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Put.Item.ID != objID || !bytes.Equal(got.Put.Item.Bytes, payload) {
		t.Fatalf("got %+v, want id %v bytes %v", got.Put.Item, objID, payload)
	}
}

func TestEncodeDecodePutMissing(t *testing.T) {
	objID := id.New(id.KindDirectory, []byte("missing"))
	m := &Message{Kind: MessagePut, Put: &PutMessage{
		Kind:    PutMissing,
		Missing: &PutMissingMessage{Kind: ItemObject, ID: objID},
	}}
	got, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Put.Kind != PutMissing || got.Put.Missing.ID != objID {
		t.Fatalf("got %+v", got.Put)
	}
}

func TestEncodeDecodeProgress(t *testing.T) {
	m := &Message{Kind: MessageGet, Get: &GetMessage{
		Kind:     GetProgress,
		Progress: &ProgressMessage{Processes: 7, Objects: 42, Bytes: 123456},
	}}
	got, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p := got.Get.Progress
	if p.Processes != 7 || p.Objects != 42 || p.Bytes != 123456 {
		t.Fatalf("got %+v", p)
	}
}

func TestEncodeDecodeEndMessages(t *testing.T) {
	end := &Message{Kind: MessageEnd}
	got, err := Decode(Encode(end))
	if err != nil || got.Kind != MessageEnd {
		t.Fatalf("got %+v, err %v", got, err)
	}

	getEnd := &Message{Kind: MessageGet, Get: &GetMessage{Kind: GetEnd}}
	got, err = Decode(Encode(getEnd))
	if err != nil || got.Get.Kind != GetEnd {
		t.Fatalf("got %+v, err %v", got, err)
	}

	putEnd := &Message{Kind: MessagePut, Put: &PutMessage{Kind: PutEnd}}
	got, err = Decode(Encode(putEnd))
	if err != nil || got.Put.Kind != PutEnd {
		t.Fatalf("got %+v, err %v", got, err)
	}
}

func TestDecodeRejectsUnknownMessageTag(t *testing.T) {
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Fatalf("expected error for unknown message tag")
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	if _, err := Decode([]byte{tagMessageGet}); err == nil {
		t.Fatalf("expected error for truncated message")
	}
}
