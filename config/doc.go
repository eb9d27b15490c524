// Package config resolves prompt loader settings from layered sources.
//
// Precedence, highest first:
//  1. Explicit overrides passed to ResolveWithFlags
//  2. Environment variables (PROMPTLY_PROMPTS_DIR, PROMPTLY_FALLBACK, PROMPTLY_CACHE_SIZE)
//  3. Local config: .promptly.yaml in the git root
//  4. Global config: ~/.config/promptly/config.yaml
//  5. Built-in defaults
//
// # Basic Usage
//
//	resolver := config.NewResolver(config.Options{})
//	cfg := resolver.Resolve()
//	fmt.Println(cfg.Get("prompts_dir"), cfg.Source("prompts_dir"))
//
//	settings, err := cfg.Settings()
//	if err != nil {
//	    return err // *errors.ConfigError naming the bad key
//	}
//	loader, err := prompt.NewFromSettings(settings)
//
// # Config Files
//
// Both files are flat YAML maps:
//
//	prompts_dir: prompts
//	fallback: true
//	cache_size: 100
//
// A relative prompts_dir is taken relative to the directory of the file that
// sets it, so a checked-in .promptly.yaml works from any working directory.
// Unknown keys are skipped and reported in Resolver.Warnings.
package config
