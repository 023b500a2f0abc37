package router

import "testing"

func TestParseCommentHintsRouteToServer(t *testing.T) {
	hints := ParseCommentHints("-- maxscale route to server r2\nSELECT 1")
	if len(hints) != 1 || hints[0].Kind != HintNamed || hints[0].Name != "r2" {
		t.Fatalf("got %+v", hints)
	}
}

func TestParseCommentHintsBlockComment(t *testing.T) {
	hints := ParseCommentHints("/* maxscale route to master */ SELECT 1")
	if len(hints) != 1 || hints[0].Kind != HintPrimary {
		t.Fatalf("got %+v", hints)
	}
}

func TestParseCommentHintsMultipleInOrder(t *testing.T) {
	hints := ParseCommentHints("-- maxscale route to slave\n# maxscale route to all\nSELECT 1")
	if len(hints) != 2 || hints[0].Kind != HintReplica || hints[1].Kind != HintAll {
		t.Fatalf("got %+v", hints)
	}
}

func TestParseCommentHintsIgnoresOrdinaryComments(t *testing.T) {
	if hints := ParseCommentHints("-- just a note\nSELECT 1"); len(hints) != 0 {
		t.Fatalf("got %+v", hints)
	}
	if hints := ParseCommentHints("SELECT 1 -- maxscale route to master"); len(hints) != 0 {
		t.Fatalf("statement-trailing comment should not be scanned, got %+v", hints)
	}
}
