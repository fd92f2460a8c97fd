package ops

import (
	"regexp"

	"github.com/BurntSushi/toml"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// FilterSpec decides which table names an operation touches. Exclusion always
// wins over inclusion; if any include rule exists a name has to match one of
// them, otherwise everything passes unless excluded.
type FilterSpec struct {
	includeNames    mapset.Set[string]
	excludeNames    mapset.Set[string]
	includePatterns []*regexp.Regexp
	excludePatterns []*regexp.Regexp
}

func NewFilterSpec(includeNames, excludeNames, includePatterns, excludePatterns []string) (*FilterSpec, error) {
	spec := &FilterSpec{
		includeNames: mapset.NewSet(includeNames...),
		excludeNames: mapset.NewSet(excludeNames...),
	}
	for _, pattern := range includePatterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid include pattern %q", pattern)
		}
		spec.includePatterns = append(spec.includePatterns, compiled)
	}
	for _, pattern := range excludePatterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid exclude pattern %q", pattern)
		}
		spec.excludePatterns = append(spec.excludePatterns, compiled)
	}
	return spec, nil
}

func (f *FilterSpec) hasIncludeRules() bool {
	return f.includeNames.Cardinality() > 0 || len(f.includePatterns) > 0
}

// Allow reports whether name passes the filter.
func (f *FilterSpec) Allow(name string) bool {
	if f.excludeNames.Contains(name) {
		return false
	}
	for _, pattern := range f.excludePatterns {
		if pattern.MatchString(name) {
			return false
		}
	}
	if !f.hasIncludeRules() {
		return true
	}
	if f.includeNames.Contains(name) {
		return true
	}
	for _, pattern := range f.includePatterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// FilterFlags is embedded in commands that take table filter rules. The
// config file rules merge into whatever the flags carry.
type FilterFlags struct {
	Tables          []string `help:"Table names to include (all tables when no include rule is given)" optional:""`
	ExcludeTables   []string `help:"Table names to exclude" optional:""`
	TablePatterns   []string `help:"Regexps of table names to include" optional:""`
	ExcludePatterns []string `help:"Regexps of table names to exclude" optional:""`

	ConfigFile string `help:"TOML formatted config file" short:"f" optional:"" type:"path"`
}

type filterFileConfig struct {
	Tables struct {
		Include         []string `toml:"include"`
		Exclude         []string `toml:"exclude"`
		IncludePatterns []string `toml:"include_patterns"`
		ExcludePatterns []string `toml:"exclude_patterns"`
	} `toml:"tables"`
}

// Filter builds the FilterSpec from the flags and the ConfigFile if specified.
func (f FilterFlags) Filter() (*FilterSpec, error) {
	includeNames := f.Tables
	excludeNames := f.ExcludeTables
	includePatterns := f.TablePatterns
	excludePatterns := f.ExcludePatterns
	if f.ConfigFile != "" {
		var config filterFileConfig
		_, err := toml.DecodeFile(f.ConfigFile, &config)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		includeNames = append(includeNames, config.Tables.Include...)
		excludeNames = append(excludeNames, config.Tables.Exclude...)
		includePatterns = append(includePatterns, config.Tables.IncludePatterns...)
		excludePatterns = append(excludePatterns, config.Tables.ExcludePatterns...)
	}
	return NewFilterSpec(includeNames, excludeNames, includePatterns, excludePatterns)
}
