// Package device models device identity and assignment, independent of
// any particular Domain type so both the domain and storage packages can
// reference it without an import cycle.
package device

// Port 标识一个物理/虚拟设备出现在哪个后端 Domain 的哪个端口上。
// PortID 和 DevClass 都可能是通配符 "*"。
type Port struct {
	BackendDomain string
	PortID        string
	DevClass      string
}

// VirtualDevice 是一个 Port 加一个可选的设备身份（例如
// USB vendor:product:serial 三元组拼成的字符串）；DeviceID 可以是
// 通配符 "*"，表示"这个端口上此刻插着的任何设备"。
type VirtualDevice struct {
	Port     Port
	DeviceID string
}

// Mode 描述一个 Assignment 的绑定强度。
type Mode string

const (
	// ModeManual 仅记录绑定关系，attach 必须由调用方显式触发。
	ModeManual Mode = "manual"
	// ModeAuto 设备出现时自动 attach，消失时自动 detach。
	ModeAuto Mode = "auto"
	// ModeAsk 设备出现时提示（GUI agent 的职责），经确认后 attach。
	ModeAsk Mode = "ask"
	// ModeRequired 在 Domain start 之前必须已满足，否则 start 失败。
	ModeRequired Mode = "required"
)

// Assignment 把一个 VirtualDevice 绑定到一个前端 Domain（用名字引用，
// 避免这个包依赖 domain 包）。
type Assignment struct {
	Device   VirtualDevice
	Frontend string
	Mode     Mode
	// Options 是驱动特定的附加参数（例如 PCI 的 no-strict-reset）。
	Options map[string]string
}

// Satisfiable 报告一个 required 级别的 assignment 在给定的"当前已连接
// 设备"集合下是否可以被满足。非 required 的 assignment 永远视为
// 可满足（它们不会阻塞 start）。
func (a Assignment) Satisfiable(present map[VirtualDevice]struct{}) bool {
	if a.Mode != ModeRequired {
		return true
	}
	if a.Device.DeviceID == "*" {
		for vd := range present {
			if vd.Port == a.Device.Port {
				return true
			}
		}
		return false
	}
	_, ok := present[a.Device]
	return ok
}
