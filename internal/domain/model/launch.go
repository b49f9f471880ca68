package model

// Category 表示自启动项所属的来源类别。每个类别有独立的读取链路与身份规则。
type Category string

const (
	// CategoryLoginItems 登录项（用户登录时启动的应用）。
	CategoryLoginItems Category = "login_items"
	// CategoryLaunchAgents 用户级 launchd 代理。
	CategoryLaunchAgents Category = "launch_agents"
	// CategoryLaunchDaemons 系统级 launchd 守护进程。
	CategoryLaunchDaemons Category = "launch_daemons"
	// CategoryBackgroundItems 由后台任务管理（BTM）登记的后台项。
	CategoryBackgroundItems Category = "background_items"
)

// AllCategories 返回固定顺序的全部类别，用于刷新与展示。
func AllCategories() []Category {
	return []Category{
		CategoryLoginItems,
		CategoryLaunchAgents,
		CategoryLaunchDaemons,
		CategoryBackgroundItems,
	}
}

// Valid 判断类别取值是否合法。
func (c Category) Valid() bool {
	switch c {
	case CategoryLoginItems, CategoryLaunchAgents, CategoryLaunchDaemons, CategoryBackgroundItems:
		return true
	default:
		return false
	}
}

// EnabledAuthoritative 表示该类别的实时读取结果能否作为 enabled 的权威来源。
// 登录项的部分读取路径拿不到 hidden 状态，因此不是权威来源，需要以快照为准。
func (c Category) EnabledAuthoritative() bool {
	return c != CategoryLoginItems
}

// UsesSnapshot 表示该类别是否维护持久化快照。
func (c Category) UsesSnapshot() bool {
	return !c.EnabledAuthoritative()
}

// ParseCategory 支持完整名称以及 CLI 常用简写。
func ParseCategory(s string) (Category, bool) {
	switch s {
	case string(CategoryLoginItems), "login", "logins", "login-items":
		return CategoryLoginItems, true
	case string(CategoryLaunchAgents), "agent", "agents", "launch-agents":
		return CategoryLaunchAgents, true
	case string(CategoryLaunchDaemons), "daemon", "daemons", "launch-daemons":
		return CategoryLaunchDaemons, true
	case string(CategoryBackgroundItems), "background", "btm", "background-items":
		return CategoryBackgroundItems, true
	default:
		return "", false
	}
}

// Scope 表示 launchd 声明文件所在目录的作用域。
type Scope string

const (
	// ScopeUser 用户目录 ~/Library/...
	ScopeUser Scope = "user"
	// ScopeLocal 本机目录 /Library/...
	ScopeLocal Scope = "local"
	// ScopeSystem 系统目录 /System/Library/...
	ScopeSystem Scope = "system"
)

// LaunchRecord 是一条归一化后的自启动项。
//
// 公共字段对所有类别都有效；类别专有属性只能通过 LoginItem/Service/Background
// 访问器在类别检查之后取得。记录在每轮刷新中重新生成，不跨轮修改。
type LaunchRecord struct {
	Category    Category       `json:"category"`
	IdentityKey string         `json:"identity_key"`
	DisplayName string         `json:"display_name"`
	Path        string         `json:"path,omitempty"`
	Enabled     bool           `json:"enabled"`
	Publisher   string         `json:"publisher,omitempty"`
	Impact      ImpactLevel    `json:"impact,omitempty"`
	Metrics     *ImpactMetrics `json:"metrics,omitempty"`

	Login      *LoginAttrs      `json:"login,omitempty"`
	Service    *ServiceAttrs    `json:"service,omitempty"`
	Background *BackgroundAttrs `json:"background,omitempty"`
}

// LoginAttrs 是登录项专有属性。
type LoginAttrs struct {
	Hidden bool `json:"hidden"`
	// HiddenKnown 为 false 表示读取路径无法提供 hidden 状态（例如只拿到名称）。
	HiddenKnown bool `json:"hidden_known"`
}

// ServiceAttrs 是 launchd 代理/守护进程的声明属性。
type ServiceAttrs struct {
	Label              string   `json:"label"`
	LabelFromFilename  bool     `json:"label_from_filename,omitempty"`
	Program            string   `json:"program,omitempty"`
	ProgramArguments   []string `json:"program_arguments,omitempty"`
	RunAtLoad          bool     `json:"run_at_load"`
	KeepAlive          bool     `json:"keep_alive"`
	HasStartInterval   bool     `json:"has_start_interval"`
	HasWatchPaths      bool     `json:"has_watch_paths"`
	WatchPathsNonEmpty bool     `json:"watch_paths_non_empty"`
	HasSockets         bool     `json:"has_sockets"`
	ProcessType        string   `json:"process_type,omitempty"`
	Scope              Scope    `json:"scope"`
}

// Executable 返回声明的主程序：Program 优先，否则取 ProgramArguments 第一项。
func (s ServiceAttrs) Executable() string {
	if s.Program != "" {
		return s.Program
	}
	if len(s.ProgramArguments) > 0 {
		return s.ProgramArguments[0]
	}
	return ""
}

// BackgroundAttrs 是 BTM 后台项专有属性。
type BackgroundAttrs struct {
	BundleID  string `json:"bundle_id,omitempty"`
	ItemType  string `json:"item_type,omitempty"`
	Developer string `json:"developer,omitempty"`
}

// LoginItem 在类别为登录项时返回其专有属性。
func (r LaunchRecord) LoginItem() (LoginAttrs, bool) {
	if r.Category != CategoryLoginItems || r.Login == nil {
		return LoginAttrs{}, false
	}
	return *r.Login, true
}

// ServiceDecl 在类别为代理或守护进程时返回声明属性。
func (r LaunchRecord) ServiceDecl() (ServiceAttrs, bool) {
	if (r.Category != CategoryLaunchAgents && r.Category != CategoryLaunchDaemons) || r.Service == nil {
		return ServiceAttrs{}, false
	}
	return *r.Service, true
}

// BackgroundItem 在类别为后台项时返回其专有属性。
func (r LaunchRecord) BackgroundItem() (BackgroundAttrs, bool) {
	if r.Category != CategoryBackgroundItems || r.Background == nil {
		return BackgroundAttrs{}, false
	}
	return *r.Background, true
}

// Clone 深拷贝记录，供存储层对外返回，避免调用方改写内部切片。
func (r LaunchRecord) Clone() LaunchRecord {
	out := r
	if r.Metrics != nil {
		m := *r.Metrics
		out.Metrics = &m
	}
	if r.Login != nil {
		l := *r.Login
		out.Login = &l
	}
	if r.Service != nil {
		s := *r.Service
		if len(s.ProgramArguments) > 0 {
			s.ProgramArguments = append([]string(nil), s.ProgramArguments...)
		}
		out.Service = &s
	}
	if r.Background != nil {
		b := *r.Background
		out.Background = &b
	}
	return out
}
