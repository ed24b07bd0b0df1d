// Package policy decides which capabilities a role holds. Rules come from a
// YAML file that is watched and reloaded in place.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"gopkg.in/yaml.v3"
)

// Capabilities checked by the API. Patterns in rules may end in "*".
const (
	TaskCreate         = "task:create"
	TaskEdit           = "task:edit"
	TaskPublish        = "task:publish"
	TaskStart          = "task:start"
	TaskDone           = "task:done"
	TaskComplete       = "task:complete"
	TaskCancel         = "task:cancel"
	TaskRead           = "task:read"
	TaskRate           = "task:rate"
	OfferSubmit        = "offer:submit"
	OfferAccept        = "offer:accept"
	OfferWithdraw      = "offer:withdraw"
	OfferRead          = "offer:read"
	DisputeOpen        = "dispute:open"
	DisputeInvestigate = "dispute:investigate"
	DisputeResolve     = "dispute:resolve"
	DisputeClose       = "dispute:close"
	DisputeRead        = "dispute:read"
	EscrowSettle       = "escrow:settle"
	PayoutRetry        = "payout:retry"
	LedgerRead         = "ledger:read"
	EarningsRead       = "earnings:read"
	LedgerAudit        = "ledger:audit"
	KeyRotate          = "key:rotate"
	RatingRead         = "rating:read"
)

// Config is the policy.yaml document.
type Config struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Rule grants or denies capability patterns to a role. Role "*" applies to
// every role. A rule with conditions only applies when all of them hold.
type Rule struct {
	ID         string      `yaml:"id"`
	Role       string      `yaml:"role"`
	Allow      []string    `yaml:"allow"`
	Deny       []string    `yaml:"deny,omitempty"`
	Conditions []Condition `yaml:"conditions,omitempty"`
}

// Condition compares a request parameter with a literal.
type Condition struct {
	Key      string `yaml:"key"`
	Operator string `yaml:"operator"` // eq | gt | lt | gte | lte
	Value    string `yaml:"value"`
}

// Decision explains an authorization result.
type Decision struct {
	Allowed bool
	RuleID  string
}

// DefaultConfig is used when no policy file is configured.
func DefaultConfig() *Config {
	return &Config{
		Version: "default",
		Rules: []Rule{
			{ID: "admin-all", Role: string(models.RoleAdmin), Allow: []string{"*"}},
			{ID: "user-tasks", Role: string(models.RoleUser), Allow: []string{
				"task:*", "offer:accept", "offer:read", "dispute:open", "dispute:read", "ledger:read", "rating:read",
			}},
			{ID: "user-accept-cap", Role: string(models.RoleUser), Deny: []string{"offer:accept"},
				Conditions: []Condition{{Key: "amount", Operator: "gt", Value: "5000000"}}},
			{ID: "helper-work", Role: string(models.RoleHelper), Allow: []string{
				"task:read", "task:start", "task:done", "task:cancel",
				"offer:submit", "offer:withdraw", "offer:read",
				"dispute:open", "dispute:read", "ledger:read", "earnings:read", "payout:retry", "rating:read",
			}},
		},
	}
}

// Engine evaluates rules. It is safe for concurrent use; Reload swaps the
// whole rule set at once.
type Engine struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once
	watching   bool
}

// NewEngine loads configPath, or DefaultConfig when configPath is empty.
func NewEngine(configPath string) (*Engine, error) {
	e := &Engine{stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	if configPath == "" {
		e.config = DefaultConfig()
		return e, nil
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		absPath = configPath
	}
	config, err := loadConfig(absPath)
	if err != nil {
		return nil, err
	}
	e.config = config
	e.configPath = absPath
	return e, nil
}

// NewEngineFromConfig is used by tests and embedded callers.
func NewEngineFromConfig(c *Config) (*Engine, error) {
	if err := validate(c); err != nil {
		return nil, err
	}
	return &Engine{config: c, stopCh: make(chan struct{}), doneCh: make(chan struct{})}, nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}
	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func validate(c *Config) error {
	if err := assert.NotNil(c, "policy config"); err != nil {
		return err
	}
	for i, r := range c.Rules {
		if r.Role != "*" && !models.Role(r.Role).Valid() {
			return fmt.Errorf("policy rule %d (%s): unknown role %q", i, r.ID, r.Role)
		}
		for _, p := range append(append([]string(nil), r.Allow...), r.Deny...) {
			if p == "" {
				return fmt.Errorf("policy rule %d (%s): empty pattern", i, r.ID)
			}
		}
		for _, cond := range r.Conditions {
			switch cond.Operator {
			case "eq", "gt", "lt", "gte", "lte":
			default:
				return fmt.Errorf("policy rule %d (%s): unknown operator %q", i, r.ID, cond.Operator)
			}
		}
	}
	return nil
}

// Reload re-reads the policy file. On error the previous rules stay active.
func (e *Engine) Reload() error {
	if e.configPath == "" {
		return nil
	}
	config, err := loadConfig(e.configPath)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.config = config
	e.mu.Unlock()
	logging.Info("policy_reloaded", logging.Fields{Component: "policy", Method: config.Version})
	return nil
}

// Watch reloads the policy whenever its file changes, until ctx ends or
// Stop is called. The parent directory is watched so editors that replace
// the file by rename are seen too.
func (e *Engine) Watch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.configPath == "" || e.watching {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(e.configPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching policy dir: %w", err)
	}
	e.watching = true
	go e.watchLoop(ctx, watcher)
	return nil
}

const reloadDebounce = 100 * time.Millisecond

func (e *Engine) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(e.doneCh)
	defer watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != e.configPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("policy_watch_error", logging.Fields{Component: "policy", Error: err.Error()})
		case <-pending:
			pending = nil
			if err := e.Reload(); err != nil {
				logging.Warn("policy_reload_failed", logging.Fields{Component: "policy", Error: err.Error()})
			}
		}
	}
}

// Stop ends Watch and waits for the watch goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.mu.RLock()
	watching := e.watching
	e.mu.RUnlock()
	if watching {
		<-e.doneCh
	}
}

func (e *Engine) Version() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config.Version
}

func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.config.Rules)
}

// Authorize decides whether role may use capability. Deny patterns win over
// allow patterns. params feed rule conditions and may be nil.
func (e *Engine) Authorize(role models.Role, capability string, params map[string]interface{}) Decision {
	if err := assert.Check(capability != "", "capability must not be empty"); err != nil {
		return Decision{}
	}
	e.mu.RLock()
	rules := e.config.Rules
	e.mu.RUnlock()

	var allowed Decision
	for _, r := range rules {
		if r.Role != "*" && r.Role != string(role) {
			continue
		}
		if !CheckConditions(r.Conditions, params) {
			continue
		}
		for _, p := range r.Deny {
			if MatchPattern(p, capability) {
				return Decision{Allowed: false, RuleID: r.ID}
			}
		}
		if allowed.Allowed {
			continue
		}
		for _, p := range r.Allow {
			if MatchPattern(p, capability) {
				allowed = Decision{Allowed: true, RuleID: r.ID}
				break
			}
		}
	}
	return allowed
}

// MatchPattern matches capability against pattern; a trailing "*" matches
// any suffix.
func MatchPattern(pattern, capability string) bool {
	if pattern == "" || capability == "" {
		return false
	}
	if pattern == capability {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(capability, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// CheckConditions reports whether every condition holds for params. A
// missing parameter fails its condition.
func CheckConditions(conditions []Condition, params map[string]interface{}) bool {
	const maxConditions = 64
	if len(conditions) == 0 {
		return true
	}
	if len(conditions) > maxConditions {
		return false
	}
	for _, cond := range conditions {
		val, ok := params[cond.Key]
		if !ok {
			return false
		}
		switch cond.Operator {
		case "eq":
			if fmt.Sprintf("%v", val) != cond.Value {
				return false
			}
		case "gt", "lt", "gte", "lte":
			f, ok := toFloat(val)
			target, err := strconv.ParseFloat(cond.Value, 64)
			if !ok || err != nil {
				return false
			}
			switch {
			case cond.Operator == "gt" && !(f > target),
				cond.Operator == "lt" && !(f < target),
				cond.Operator == "gte" && !(f >= target),
				cond.Operator == "lte" && !(f <= target):
				return false
			}
		default:
			return false
		}
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch i := v.(type) {
	case float64:
		return i, true
	case int:
		return float64(i), true
	case int64:
		return float64(i), true
	case models.Amount:
		return float64(i), true
	case string:
		f, err := strconv.ParseFloat(i, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
