// Package essentials reads warps and player homes from an Essentials data
// directory. It implements source.WarpProvider and source.HomeProvider.
//
// Layout:
//
//	<dataDir>/warps/<warp>.yml
//	<dataDir>/userdata/<uuid>.yml
package essentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OCAP2/markersync/internal/config"
	"github.com/OCAP2/markersync/internal/source"
	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	warpsDir    = "warps"
	userdataDir = "userdata"
	ext         = ".yml"
)

// position is the location block shared by warp files and user homes
type position struct {
	World     string  `yaml:"world"`
	WorldName string  `yaml:"world-name"`
	X         float64 `yaml:"x"`
	Y         float64 `yaml:"y"`
	Z         float64 `yaml:"z"`
}

type warpFile struct {
	Name     string `yaml:"name"`
	position `yaml:",inline"`
}

type userFile struct {
	LastAccountName string              `yaml:"last-account-name"`
	Homes           map[string]position `yaml:"homes"`
	Timestamps      struct {
		Login  int64 `yaml:"login"`
		Logout int64 `yaml:"logout"`
	} `yaml:"timestamps"`
}

// parsed is a decoded data file and the modification time it was read at
type parsed[T any] struct {
	modTime time.Time
	value   *T
}

// Provider serves warps and homes from the data directory. Files are re-read
// when their modification time changes.
type Provider struct {
	dir    string
	worlds map[string]uuid.UUID

	mu        sync.Mutex
	users     map[string]parsed[userFile]
	warps     map[string]parsed[warpFile]
	warpIndex map[string]string // lower-cased warp name and file stem -> path, rebuilt by List
}

var (
	_ source.WarpProvider = (*Provider)(nil)
	_ source.HomeProvider = (*Provider)(nil)
)

// Open returns a Provider for cfg.DataDir, or nil when the directory does not
// exist (Essentials not installed).
func Open(cfg config.EssentialsConfig) (*Provider, error) {
	info, err := os.Stat(cfg.DataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat essentials data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("essentials data dir %s is not a directory", cfg.DataDir)
	}

	worlds := make(map[string]uuid.UUID, len(cfg.Worlds))
	for name, id := range cfg.Worlds {
		worlds[strings.ToLower(name)] = id
	}

	return &Provider{
		dir:    cfg.DataDir,
		worlds: worlds,
		users:  make(map[string]parsed[userFile]),
		warps:  make(map[string]parsed[warpFile]),
	}, nil
}

// resolve turns a position block into a Location. The world UUID wins; the
// world name is looked up in the configured world table otherwise.
func (p *Provider) resolve(pos position) (core.Location, error) {
	world, err := uuid.Parse(strings.TrimSpace(pos.World))
	if err != nil {
		id, ok := p.worlds[strings.ToLower(strings.TrimSpace(pos.WorldName))]
		if !ok {
			return core.Location{}, fmt.Errorf("world %q: %w", pos.World, source.ErrInvalidWorld)
		}
		world = id
	}
	return core.Location{
		World:    world,
		Position: core.Position3D{X: pos.X, Y: pos.Y, Z: pos.Z},
	}, nil
}

// load returns the decoded file at path, reusing the cached copy while the
// file's modification time is unchanged. Caller must hold p.mu.
func load[T any](cache map[string]parsed[T], path string) (*T, error) {
	info, err := os.Stat(path)
	if err != nil {
		delete(cache, path)
		return nil, err
	}
	if c, ok := cache[path]; ok && c.modTime.Equal(info.ModTime()) {
		return c.value, nil
	}

	var v T
	if err := readYAML(path, &v); err != nil {
		delete(cache, path)
		return nil, err
	}
	cache[path] = parsed[T]{modTime: info.ModTime(), value: &v}
	return &v, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ymlFiles lists the .yml files of a subdirectory. A missing directory is empty.
func (p *Provider) ymlFiles(sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.dir, sub))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sub, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		files = append(files, filepath.Join(p.dir, sub, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// List returns the names of all warps
func (p *Provider) List() ([]string, error) {
	files, err := p.ymlFiles(warpsDir)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	index := make(map[string]string, 2*len(files))
	names := make([]string, 0, len(files))
	for _, f := range files {
		index[strings.ToLower(stem(f))] = f
		w, err := load(p.warps, f)
		if err != nil || strings.TrimSpace(w.Name) == "" {
			names = append(names, stem(f))
			continue
		}
		index[strings.ToLower(w.Name)] = f
		names = append(names, w.Name)
	}
	for path := range p.warps {
		if !slices.Contains(files, path) {
			delete(p.warps, path)
		}
	}
	p.warpIndex = index
	return names, nil
}

// Resolve returns the location of the named warp. Lookup is case-insensitive
// on both the file name and the name field.
func (p *Provider) Resolve(name string) (core.Location, error) {
	p.mu.Lock()
	path, ok := p.warpIndex[strings.ToLower(name)]
	p.mu.Unlock()
	if ok {
		if loc, found, err := p.resolveWarpFile(path, name); found {
			return loc, err
		}
	}

	// not listed yet, or renamed since the last List
	files, err := p.ymlFiles(warpsDir)
	if err != nil {
		return core.Location{}, err
	}
	for _, f := range files {
		if loc, found, err := p.resolveWarpFile(f, name); found {
			return loc, err
		}
	}
	return core.Location{}, fmt.Errorf("warp %s: %w", name, source.ErrWarpNotFound)
}

// resolveWarpFile resolves name against one warp file. found reports whether
// the file is the named warp.
func (p *Provider) resolveWarpFile(path, name string) (core.Location, bool, error) {
	p.mu.Lock()
	w, err := load(p.warps, path)
	p.mu.Unlock()

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || !strings.EqualFold(stem(path), name) {
			return core.Location{}, false, nil
		}
		return core.Location{}, true, fmt.Errorf("warp %s: %w", name, err)
	}
	if !strings.EqualFold(w.Name, name) && !strings.EqualFold(stem(path), name) {
		return core.Location{}, false, nil
	}
	loc, err := p.resolve(w.position)
	return loc, true, err
}

func (p *Provider) userPath(id uuid.UUID) string {
	return filepath.Join(p.dir, userdataDir, id.String()+ext)
}

// user loads a user file, reusing the parsed copy while the file is unchanged
func (p *Provider) user(id uuid.UUID) (*userFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := load(p.users, p.userPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("owner %s: %w", id, source.ErrOwnerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("owner %s: %w: %v", id, source.ErrOwnerNotFound, err)
	}
	return u, nil
}

// AllOwners returns every owner with a user data file
func (p *Provider) AllOwners() ([]uuid.UUID, error) {
	files, err := p.ymlFiles(userdataDir)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(files))
	for _, f := range files {
		id, err := uuid.Parse(stem(f))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ActiveOwners returns owners whose last login is newer than their last logout
func (p *Provider) ActiveOwners() ([]uuid.UUID, error) {
	all, err := p.AllOwners()
	if err != nil {
		return nil, err
	}
	var active []uuid.UUID
	for _, id := range all {
		u, err := p.user(id)
		if err != nil {
			continue
		}
		if u.Timestamps.Login > u.Timestamps.Logout {
			active = append(active, id)
		}
	}
	return active, nil
}

// OwnerName returns the last known account name of an owner
func (p *Provider) OwnerName(id uuid.UUID) (string, error) {
	u, err := p.user(id)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(u.LastAccountName) == "" {
		return "", fmt.Errorf("owner %s has no account name: %w", id, source.ErrOwnerNotFound)
	}
	return u.LastAccountName, nil
}

// HomesOf returns the home names of an owner
func (p *Provider) HomesOf(id uuid.UUID) ([]string, error) {
	u, err := p.user(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(u.Homes))
	for name := range u.Homes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ResolveHome returns the location of an owner's home
func (p *Provider) ResolveHome(id uuid.UUID, name string) (core.Location, error) {
	u, err := p.user(id)
	if err != nil {
		return core.Location{}, err
	}
	pos, ok := u.Homes[name]
	if !ok {
		for k, v := range u.Homes {
			if strings.EqualFold(k, name) {
				pos, ok = v, true
				break
			}
		}
	}
	if !ok {
		return core.Location{}, fmt.Errorf("home %s of %s: %w", name, id, source.ErrHomeNotFound)
	}
	return p.resolve(pos)
}
