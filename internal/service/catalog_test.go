package service

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ZebulonRouseFrantzich/lbox/internal/catalog"
	"github.com/ZebulonRouseFrantzich/lbox/internal/config"
)

func TestClient_SeedsRepositoriesAndChecksUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"Example","apps":[
			{"name":"Example","bundleIdentifier":"com.example.app","version":"1.2","downloadURL":"https://example.com/1.2.ipa"},
			{"name":"Example","bundleIdentifier":"com.example.app","version":"1.10","downloadURL":"https://example.com/1.10.ipa"}
		]}`)
	}))
	defer srv.Close()

	f := newFixture(t, func(c *config.Config) {
		c.Repositories = []config.Repository{
			{URL: srv.URL + "/repo.json", Enabled: true},
			{URL: srv.URL + "/off.json", Enabled: false},
		}
	}, srv.Client())
	f.convert(t, f.ipa(t, "app.ipa", "com.example.app", "1.9"))

	var leaves int
	f.client.Catalog().View(func(tr *catalog.Tree) { leaves = len(tr.EnabledLeaves()) })
	if leaves != 1 {
		t.Fatalf("enabled repositories = %d, want 1", leaves)
	}

	sum, err := f.client.Catalog().Refresh(t.Context())
	if err != nil || sum.Failed != 0 {
		t.Fatalf("Refresh() = %+v, %v", sum, err)
	}
	updates, err := f.client.CheckUpdates()
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 || updates[0].Latest.Version != "1.10" || updates[0].Installed != "1.9" {
		t.Errorf("CheckUpdates() = %+v", updates)
	}
}
