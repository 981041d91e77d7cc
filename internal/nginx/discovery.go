package nginx

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"certify-manager/internal/model"
)

const disabledSuffix = ".disabled"

var siteIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Discovery enumerates locally hosted sites from nginx server blocks.
//
// Sites are read from conf.d/*.conf (stopped when renamed to *.conf.disabled)
// and from sites-available/*, which are running when linked from sites-enabled.
type Discovery struct {
	configPath string
	logger     zerolog.Logger
}

func NewDiscovery(configPath string, logger zerolog.Logger) *Discovery {
	return &Discovery{
		configPath: configPath,
		logger:     logger.With().Str("component", "nginx_discovery").Logger(),
	}
}

// GetPrimarySites returns the discovered sites ordered by name
func (d *Discovery) GetPrimarySites(ctx context.Context, ignoreStoppedSites bool) ([]model.SiteBindingItem, error) {
	files, err := d.configFiles()
	if err != nil {
		return nil, err
	}

	sites := []model.SiteBindingItem{}
	seen := map[string]bool{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ignoreStoppedSites && !f.enabled {
			continue
		}

		site, err := parseSiteFile(f.path)
		if err != nil {
			d.logger.Warn().Err(err).Str("file", f.path).Msg("skipping unreadable site config")
			continue
		}
		if len(site.Hosts) == 0 {
			continue
		}

		site.SiteID = siteID(f.path)
		if seen[site.SiteID] {
			continue
		}
		seen[site.SiteID] = true

		site.SiteName = site.Hosts[0]
		site.IsEnabled = f.enabled
		site.ConfigFile = f.path
		sites = append(sites, *site)
	}

	sort.SliceStable(sites, func(i, j int) bool {
		return sites[i].SiteName < sites[j].SiteName
	})

	return sites, nil
}

// GetSite returns the discovered site with the given ID, stopped sites included
func (d *Discovery) GetSite(ctx context.Context, id string) (*model.SiteBindingItem, error) {
	sites, err := d.GetPrimarySites(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range sites {
		if sites[i].SiteID == id {
			return &sites[i], nil
		}
	}
	return nil, model.ErrNotFound
}

type siteFile struct {
	path    string
	enabled bool
}

func (d *Discovery) configFiles() ([]siteFile, error) {
	var files []siteFile

	confD := filepath.Join(d.configPath, "conf.d")
	entries, err := os.ReadDir(confD)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", confD, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".conf"):
			files = append(files, siteFile{path: filepath.Join(confD, name), enabled: true})
		case strings.HasSuffix(name, ".conf"+disabledSuffix):
			files = append(files, siteFile{path: filepath.Join(confD, name), enabled: false})
		}
	}

	available := filepath.Join(d.configPath, "sites-available")
	entries, err = os.ReadDir(available)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", available, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		_, statErr := os.Stat(filepath.Join(d.configPath, "sites-enabled", e.Name()))
		files = append(files, siteFile{
			path:    filepath.Join(available, e.Name()),
			enabled: statErr == nil,
		})
	}

	return files, nil
}

func siteID(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, disabledSuffix)
	name = strings.TrimSuffix(name, ".conf")
	return siteIDSanitizer.ReplaceAllString(name, "-")
}

// parseSiteFile collects server_name hosts and the first root of every server block in path
func parseSiteFile(path string) (*model.SiteBindingItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	site := &model.SiteBindingItem{Hosts: []string{}}
	seen := map[string]bool{}

	for _, stmt := range statements(data) {
		fields := strings.Fields(stmt)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "server_name":
			for _, host := range fields[1:] {
				host = strings.ToLower(strings.Trim(host, `"'`))
				if !isCertifiableHost(host) || seen[host] {
					continue
				}
				seen[host] = true
				site.Hosts = append(site.Hosts, host)
			}
		case "root":
			if site.PhysicalPath == "" {
				site.PhysicalPath = strings.Trim(fields[1], `"'`)
			}
		}
	}

	return site, nil
}

// statements splits an nginx config into directive statements, dropping comments and braces
func statements(data []byte) []string {
	var out []string
	var cur strings.Builder

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, r := range line {
			switch r {
			case ';', '{', '}':
				if s := strings.TrimSpace(cur.String()); s != "" && r == ';' {
					out = append(out, s)
				}
				cur.Reset()
			default:
				cur.WriteRune(r)
			}
		}
		cur.WriteRune(' ')
	}
	return out
}

// isCertifiableHost filters out catch-all, regex, wildcard and address server names
func isCertifiableHost(host string) bool {
	switch {
	case host == "" || host == "_" || host == "localhost":
		return false
	case strings.HasPrefix(host, "~"), strings.Contains(host, "*"):
		return false
	case !strings.Contains(host, "."):
		return false
	case strings.Trim(host, "0123456789.:") == "":
		return false
	}
	return true
}
