package nginx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certify-manager/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newTestLayout(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "conf.d", "shop.conf"), `
# shop front
server {
    listen 80;
    server_name shop.example.com www.shop.example.com; # main names
    root /var/www/shop;
}
server {
    listen 443 ssl;
    server_name shop.example.com;
    root /var/www/other;
}
`)
	writeFile(t, filepath.Join(root, "conf.d", "old.conf.disabled"), `
server {
    server_name old.example.com;
    root /var/www/old;
}
`)
	writeFile(t, filepath.Join(root, "conf.d", "default.conf"), `
server {
    listen 80 default_server;
    server_name _ localhost 127.0.0.1;
}
`)
	writeFile(t, filepath.Join(root, "sites-available", "blog"), `
server { server_name blog.example.org *.blog.example.org ~^api\.; root "/srv/blog"; }
`)
	writeFile(t, filepath.Join(root, "sites-available", "wiki"), `
server { server_name wiki.example.org; }
`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sites-enabled"), 0755))
	require.NoError(t, os.Symlink(
		filepath.Join(root, "sites-available", "blog"),
		filepath.Join(root, "sites-enabled", "blog"),
	))

	return root
}

func TestGetPrimarySites_IgnoreStopped(t *testing.T) {
	d := NewDiscovery(newTestLayout(t), zerolog.Nop())

	sites, err := d.GetPrimarySites(context.Background(), true)
	require.NoError(t, err)

	require.Len(t, sites, 2)
	assert.Equal(t, "blog", sites[0].SiteID)
	assert.Equal(t, []string{"blog.example.org"}, sites[0].Hosts)
	assert.Equal(t, "/srv/blog", sites[0].PhysicalPath)

	assert.Equal(t, "shop", sites[1].SiteID)
	assert.Equal(t, "shop.example.com", sites[1].SiteName)
	assert.Equal(t, []string{"shop.example.com", "www.shop.example.com"}, sites[1].Hosts)
	assert.Equal(t, "/var/www/shop", sites[1].PhysicalPath)
	assert.True(t, sites[1].IsEnabled)
}

func TestGetPrimarySites_IncludeStopped(t *testing.T) {
	d := NewDiscovery(newTestLayout(t), zerolog.Nop())

	sites, err := d.GetPrimarySites(context.Background(), false)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, s := range sites {
		ids[s.SiteID] = s.IsEnabled
	}
	assert.Equal(t, map[string]bool{"blog": true, "old": false, "shop": true, "wiki": false}, ids)
}

func TestGetPrimarySites_MissingDirectories(t *testing.T) {
	d := NewDiscovery(t.TempDir(), zerolog.Nop())

	sites, err := d.GetPrimarySites(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, sites)
}

func TestGetSite(t *testing.T) {
	d := NewDiscovery(newTestLayout(t), zerolog.Nop())

	site, err := d.GetSite(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, []string{"old.example.com"}, site.Hosts)

	_, err = d.GetSite(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestIsCertifiableHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"xn--exmple-cua.com", true},
		{"_", false},
		{"localhost", false},
		{"*.example.com", false},
		{"~^www\\.", false},
		{"10.0.0.1", false},
		{"intranet", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, isCertifiableHost(tt.host))
		})
	}
}
