package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// StateMap assigns a clip file name to each State.
type StateMap map[State]string

// DefaultStateMap returns the built-in assignments. Processing reuses the idle
// clip and a response plays the speaking clip.
func DefaultStateMap() StateMap {
	return StateMap{
		StateWelcome:    "welcome.mp4",
		StateIdle:       "idle.mp4",
		StateSpeaking:   "speaking.mp4",
		StateProcessing: "idle.mp4",
		StateResponse:   "speaking.mp4",
	}
}

// Clip returns the clip for st.
func (m StateMap) Clip(st State) (string, bool) {
	clip, ok := m[st]
	return clip, ok && clip != ""
}

type stateMapFile struct {
	States map[string]string `yaml:"states"`
}

// LoadStateMap reads overrides from the YAML file at path on top of
// DefaultStateMap. An empty path returns the defaults.
//
//	states:
//	  processing: thinking.mp4
func LoadStateMap(path string) (StateMap, error) {
	if path == "" {
		return DefaultStateMap(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("state map: open %q: %w", path, err)
	}
	defer f.Close()

	m, err := LoadStateMapFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("state map: parse %q: %w", path, err)
	}
	return m, nil
}

// LoadStateMapFromReader decodes YAML overrides from r.
func LoadStateMapFromReader(r io.Reader) (StateMap, error) {
	var file stateMapFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	m := DefaultStateMap()
	var errs []error
	for name, clip := range file.States {
		st, err := ParseState(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		clip = strings.TrimSpace(clip)
		if clip == "" {
			errs = append(errs, fmt.Errorf("state %q has no clip", name))
			continue
		}
		m[st] = clip
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// Clips returns the distinct clip names in m in state order.
func (m StateMap) Clips() []string {
	var out []string
	for _, st := range States {
		if clip, ok := m.Clip(st); ok && !slices.Contains(out, clip) {
			out = append(out, clip)
		}
	}
	return out
}
