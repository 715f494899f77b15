package host_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mechlink/mechlink/host"
)

func newGraph(t *testing.T) (*host.MemProvider, host.Graph) {
	t.Helper()
	p := host.NewMemProvider()
	g, err := p.New(context.Background())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, g
}

func TestMemGraph_DefaultDocument(t *testing.T) {
	_, g := newGraph(t)

	dm, err := g.Root(host.RootDataModel)
	if err != nil {
		t.Fatalf("Root(DataModel) error = %v", err)
	}

	project, err := dm.Child("Project")
	if err != nil {
		t.Fatalf("Child(Project) error = %v", err)
	}
	if project.Name() != "Project" {
		t.Errorf("project name = %q, want %q", project.Name(), "Project")
	}

	if _, err := g.Root(host.RootModel); err != nil {
		t.Errorf("Root(Model) error = %v", err)
	}
	if _, err := g.Root("Tree"); err == nil {
		t.Error("Root(Tree) should fail for an unknown root")
	}
}

func TestMemNode_GetSet(t *testing.T) {
	_, g := newGraph(t)

	dm, _ := g.Root(host.RootDataModel)
	project, _ := dm.Child("Project")

	if err := project.Set("Name", "PROJECT 1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	v, err := project.Get("Name")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != "PROJECT 1" {
		t.Errorf("Get(Name) = %v, want %q", v, "PROJECT 1")
	}

	if _, err := project.Get("Nonexistent"); err == nil {
		t.Error("Get should fail for an unknown field")
	}
	if _, err := project.Child("Nonexistent"); err == nil {
		t.Error("Child should fail for an unknown child")
	}
}

func TestMemProvider_Eval(t *testing.T) {
	p, g := newGraph(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		script  string
		want    any
		wantErr bool
	}{
		{name: "get", script: "DataModel.Project.Name", want: "Project"},
		{name: "set string", script: `DataModel.Project.Name = "foo"`, want: "foo"},
		{name: "get after set", script: "DataModel.Project.Name", want: "foo"},
		{name: "set number", script: "DataModel.Project.Revision = 3", want: float64(3)},
		{name: "bare string literal", script: "DataModel.Project.Author = jane", want: "jane"},
		{name: "empty", script: "   ", wantErr: true},
		{name: "too short path", script: "DataModel", wantErr: true},
		{name: "unknown root", script: "Tree.Name", wantErr: true},
		{name: "unknown child", script: "DataModel.Missing.Name", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Eval(ctx, g, tt.script)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Eval(%q) error = %v, wantErr %v", tt.script, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.script, got, tt.want)
			}
		})
	}
}

func TestMemProvider_SaveOpenRoundTrip(t *testing.T) {
	p, g := newGraph(t)
	ctx := context.Background()

	if _, err := p.Eval(ctx, g, `DataModel.Project.Name = "PROJECT 1"`); err != nil {
		t.Fatalf("Eval() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.mechdat")
	if err := p.Save(ctx, g, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reopened, err := p.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	v, err := p.Eval(ctx, reopened, "DataModel.Project.Name")
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if v != "PROJECT 1" {
		t.Errorf("reopened project name = %v, want %q", v, "PROJECT 1")
	}

	if got := reopened.ProjectDirectory(); got != filepath.Dir(path) {
		t.Errorf("ProjectDirectory() = %q, want %q", got, filepath.Dir(path))
	}
}

func TestMemProvider_OpenMissingFile(t *testing.T) {
	p := host.NewMemProvider()
	if _, err := p.Open(context.Background(), filepath.Join(t.TempDir(), "missing.mechdat")); err == nil {
		t.Error("Open should fail for a missing project file")
	}
}
