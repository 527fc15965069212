package domain

import (
	"sync"

	"github.com/qubesd/qubesd/pkg/property"
)

// defaultNetVMProvider resolves the system-wide default netvm name; the
// app package (the only Application singleton) installs one at startup via
// SetDefaultNetVMProvider. There is no import from domain back to app —
// this mirrors a package-level logger injection point rather than a
// direct dependency.
var (
	defaultNetVMProviderMu sync.RWMutex
	defaultNetVMProvider   func() string
)

// SetDefaultNetVMProvider installs the function the "netvm" property's
// default value resolves through. Called once by app.New.
func SetDefaultNetVMProvider(fn func() string) {
	defaultNetVMProviderMu.Lock()
	defer defaultNetVMProviderMu.Unlock()
	defaultNetVMProvider = fn
}

func resolveDefaultNetVM() string {
	defaultNetVMProviderMu.RLock()
	fn := defaultNetVMProvider
	defaultNetVMProviderMu.RUnlock()
	if fn == nil {
		return ""
	}
	return fn()
}

// init 注册每个 Domain 实例共享的属性描述符表。字符串属性保持源字符串
// 原样存取（Setter/Save/Load 都是恒等变换），数值/布尔属性做显式强制
// 转换，和 Holder.Set 文档里描述的"Setter 规范化"对应。
func init() {
	reg := func(d *property.Descriptor) { property.Register(domainType, d) }

	reg(&property.Descriptor{
		Name: "label", SemanticType: "str", Stage: property.StageSkeleton,
		Default: property.ConstDefault{Value: "red"},
		Setter:  property.StringSetter,
		Save:    property.StringSaver, Load: property.StringLoader,
		Doc: "图标/边框颜色标签，仅影响展示。",
	})
	reg(&property.Descriptor{
		Name: "template", SemanticType: "vm", Stage: property.StageReferences, WriteOnce: true,
		Setter: property.StringSetter, Save: property.StringSaver, Load: property.StringLoader,
		Doc: "这个 Domain 继承 root 卷的 TemplateVM 名。HasTemplate 变体专用。",
	})
	reg(&property.Descriptor{
		Name: "netvm", SemanticType: "vm", Stage: property.StageReferences,
		Default: property.FuncDefault{Fn: func(h *property.Holder) (any, error) { return resolveDefaultNetVM(), nil }},
		Setter:  property.StringSetter, Save: property.StringSaver, Load: property.StringLoader,
		Doc: "提供网络连接的上游 Domain 名；未显式设置时继承 Application.default_netvm。",
	})
	reg(&property.Descriptor{
		Name: "provides_network", SemanticType: "bool", Stage: property.StageIntrinsic,
		Default: property.ConstDefault{Value: false},
		Setter:  property.BoolSetter, Save: property.BoolSaver, Load: property.BoolLoader,
		Doc: "为 true 时，这个 Domain 可以被其它 Domain 引用为 netvm。",
	})
	reg(&property.Descriptor{
		Name: "memory", SemanticType: "int", Stage: property.StageIntrinsic,
		Default: property.ConstDefault{Value: uint64(400 * 1024)},
		Setter:  property.UintSetter, Save: property.UintSaver, Load: property.UintLoader,
		Doc: "启动时请求的内存量，单位 KiB。",
	})
	reg(&property.Descriptor{
		Name: "maxmem", SemanticType: "int", Stage: property.StageIntrinsic,
		Default: property.ConstDefault{Value: uint64(4 * 1024 * 1024)},
		Setter:  property.UintSetter, Save: property.UintSaver, Load: property.UintLoader,
		Doc: "balloon 可扩张到的内存上限，单位 KiB。",
	})
	reg(&property.Descriptor{
		Name: "vcpus", SemanticType: "int", Stage: property.StageIntrinsic,
		Default: property.ConstDefault{Value: uint64(2)},
		Setter:  property.UintSetter, Save: property.UintSaver, Load: property.UintLoader,
		Doc: "虚拟 CPU 核数。",
	})
	reg(&property.Descriptor{
		Name: "ip", SemanticType: "str", Stage: property.StageIntrinsic,
		Default: property.ConstDefault{Value: ""},
		Setter:  property.StringSetter, Save: property.StringSaver, Load: property.StringLoader,
		Doc: "分配给这个 Domain 的 IP 地址。",
	})
	reg(&property.Descriptor{
		Name: "autostart", SemanticType: "bool", Stage: property.StageIntrinsic,
		Default: property.ConstDefault{Value: false},
		Setter:  property.BoolSetter, Save: property.BoolSaver, Load: property.BoolLoader,
		Doc: "dom0 启动时是否自动启动这个 Domain。",
	})
	reg(&property.Descriptor{
		Name: "kernel", SemanticType: "str", Stage: property.StageIntrinsic,
		Default: property.ConstDefault{Value: ""},
		Setter:  property.StringSetter, Save: property.StringSaver, Load: property.StringLoader,
		Doc: "覆盖使用的内核版本名；空字符串表示使用 template 默认值。",
	})
	reg(&property.Descriptor{
		Name: "debug", SemanticType: "bool", Stage: property.StageIntrinsic,
		Default: property.ConstDefault{Value: false},
		Setter:  property.BoolSetter, Save: property.BoolSaver, Load: property.BoolLoader,
		Doc: "为 true 时把串口控制台接到日志，便于调试启动失败。",
	})
}
