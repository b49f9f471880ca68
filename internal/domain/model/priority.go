package model

// PriorityKind 区分两种互不通用的“优先级”调整。
type PriorityKind string

const (
	// PriorityLaunchOrder 调整登录项的启动顺序（重新登记到列表首/尾）。
	PriorityLaunchOrder PriorityKind = "launch_order"
	// PriorityProcessType 改写 launchd 声明中的 ProcessType 进程优先级提示。
	PriorityProcessType PriorityKind = "process_type"
)

// LaunchOrder 取值。
const (
	OrderFirst = "first"
	OrderLast  = "last"
)

// launchd ProcessType 取值。
const (
	ProcessTypeBackground  = "Background"
	ProcessTypeStandard    = "Standard"
	ProcessTypeAdaptive    = "Adaptive"
	ProcessTypeInteractive = "Interactive"
)

// Priority 描述一次优先级变更请求。Kind 决定 Value 的取值范围。
type Priority struct {
	Kind  PriorityKind `json:"kind"`
	Value string       `json:"value"`
}

// AppliesTo 判断该优先级类型能否作用于指定类别。
func (p Priority) AppliesTo(c Category) bool {
	switch p.Kind {
	case PriorityLaunchOrder:
		return c == CategoryLoginItems
	case PriorityProcessType:
		return c == CategoryLaunchAgents || c == CategoryLaunchDaemons
	default:
		return false
	}
}

// ValidValue 校验 Value 是否属于 Kind 的取值集合。
func (p Priority) ValidValue() bool {
	switch p.Kind {
	case PriorityLaunchOrder:
		return p.Value == OrderFirst || p.Value == OrderLast
	case PriorityProcessType:
		switch p.Value {
		case ProcessTypeBackground, ProcessTypeStandard, ProcessTypeAdaptive, ProcessTypeInteractive:
			return true
		}
	}
	return false
}
