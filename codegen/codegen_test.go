package codegen_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arcware-labs/metaproto/codegen"
	"github.com/arcware-labs/metaproto/protocol"
)

func TestGenerateWritesStableFileName(t *testing.T) {
	dir := t.TempDir()
	g := codegen.NewTemplateGenerator()
	doc := protocol.ProtocolDocument("# Echo Protocol\n...")

	path1, err := g.Generate(context.Background(), doc, protocol.RoleRequester, dir)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	path2, err := g.Generate(context.Background(), doc, protocol.RoleProvider, dir)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if path1 != path2 {
		t.Errorf("expected identical hash-derived filenames, got %q and %q", path1, path2)
	}
	if _, err := os.Stat(path1); err != nil {
		t.Errorf("expected generated file to exist: %v", err)
	}
	if filepath.Dir(path1) != dir {
		t.Errorf("expected file under %q, got %q", dir, path1)
	}
}

func TestGenerateDifferentDocsDifferentFiles(t *testing.T) {
	dir := t.TempDir()
	g := codegen.NewTemplateGenerator()

	path1, _ := g.Generate(context.Background(), "# Protocol A", protocol.RoleRequester, dir)
	path2, _ := g.Generate(context.Background(), "# Protocol B", protocol.RoleRequester, dir)
	if path1 == path2 {
		t.Error("expected different documents to hash to different filenames")
	}
}

func TestGenerateRejectsEmptyDocument(t *testing.T) {
	g := codegen.NewTemplateGenerator()
	if _, err := g.Generate(context.Background(), "", protocol.RoleRequester, t.TempDir()); err == nil {
		t.Error("expected error for empty protocol document")
	}
}

func TestGenerateBinaryHintEmitsProtowireStub(t *testing.T) {
	dir := t.TempDir()
	g := codegen.NewTemplateGenerator()
	doc := protocol.ProtocolDocument("# Protocol\nTransport: binary\n")

	path, err := g.Generate(context.Background(), doc, protocol.RoleProvider, dir)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "protowire") {
		t.Errorf("expected generated file to mention protowire, got:\n%s", data)
	}
}
