// Package domain 实现 Domain（VM）的数据模型、状态机和生命周期操作。
package domain

import (
	"reflect"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/qubesd/qubesd/internal/qubesd/device"
	"github.com/qubesd/qubesd/internal/qubesd/feature"
	"github.com/qubesd/qubesd/internal/qubesd/firewall"
	"github.com/qubesd/qubesd/internal/qubesd/storage"
	"github.com/qubesd/qubesd/internal/qubesd/tag"
	"github.com/qubesd/qubesd/pkg/apierror"
	"github.com/qubesd/qubesd/pkg/property"
)

// Variant 对应源码里用子类表达的 Domain 类型；这里重铸为一个带能力
// 标签的标签化变体（见 SPEC_FULL §9 对 NetVMMixin/DVMTemplateMixin 的
// 重铸说明），class 名在持久化时原样写回 qubes.xml 的 class 属性。
type Variant string

const (
	VariantAdminVM    Variant = "AdminVM"
	VariantAppVM      Variant = "AppVM"
	VariantTemplateVM Variant = "TemplateVM"
	VariantDispVM      Variant = "DispVM"
	VariantStandalone  Variant = "StandaloneVM"
)

// Capabilities 把源码里的 mixin 多态重铸为属性标志：每个 Variant
// 对应固定的一组能力，由 CapabilitiesFor 给出，不允许运行时修改。
type Capabilities struct {
	// CanProvideNetwork 为 true 时该 Domain 可以作为另一个 Domain 的 netvm。
	CanProvideNetwork bool
	// HasTemplate 为 true 时该 Domain 拥有 template 属性（继承 root 卷）。
	HasTemplate bool
	// IsTemplate 为 true 时该 Domain 可以被其他 Domain 引用为 template。
	IsTemplate bool
	// IsDispVMTemplate 为 true 时该 Domain 可以被用来派生一次性 DispVM。
	IsDispVMTemplate bool
	// Removable 为 false 时该 Domain（仅 AdminVM）永远不能被删除。
	Removable bool
	// Startable 为 false 时该 Domain（仅 AdminVM）不支持 start/shutdown。
	Startable bool
}

// CapabilitiesFor 返回某个 Variant 固定不变的能力集合。
func CapabilitiesFor(v Variant) Capabilities {
	switch v {
	case VariantAdminVM:
		return Capabilities{Removable: false, Startable: false}
	case VariantTemplateVM:
		return Capabilities{CanProvideNetwork: true, IsTemplate: true, IsDispVMTemplate: true, Removable: true, Startable: true}
	case VariantStandalone:
		return Capabilities{CanProvideNetwork: true, Removable: true, Startable: true}
	case VariantDispVM:
		return Capabilities{CanProvideNetwork: true, HasTemplate: true, Removable: true, Startable: true}
	case VariantAppVM:
		fallthrough
	default:
		return Capabilities{CanProvideNetwork: true, HasTemplate: true, Removable: true, Startable: true}
	}
}

// nameRE 匹配合法的 Domain 名：以字母开头，其后是字母数字及 _.-，长度 1-31。
var nameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{0,30}$`)

// State 是 Domain 生命周期状态机的状态。观测状态来自 hypervisor 轮询，
// 转换由核心签发的命令驱动。
type State string

const (
	StateHalted    State = "Halted"
	StateStarting  State = "Starting"
	StateRunning   State = "Running"
	StatePaused    State = "Paused"
	StateTransient State = "Transient"
	StateHalting   State = "Halting"
	StateDying     State = "Dying"
	StateCrashed   State = "Crashed"
	StateUnknown   State = "Unknown"
)

// transitions 列出合法的状态转换；start/shutdown/pause/unpause 在
// 执行前都会对照这张表校验当前状态；kill 和 stop 路径直接设置状态，不查这张表。
var transitions = map[State][]State{
	StateHalted:    {StateStarting},
	StateStarting:  {StateRunning, StateHalted, StateUnknown},
	StateRunning:   {StatePaused, StateTransient, StateHalting, StateUnknown},
	StatePaused:    {StateRunning, StateHalting, StateUnknown},
	StateTransient: {StateRunning, StateHalting, StateUnknown},
	StateHalting:   {StateHalted, StateDying, StateUnknown},
	StateDying:     {StateHalted},
	StateCrashed:   {StateHalted},
	StateUnknown:   {StateHalted, StateRunning, StateCrashed},
}

// CanTransition 报告从 from 到 to 是否是状态机里的合法边。
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Domain 是一个可持久化的 VM 对象：内嵌 property.Holder 获得声明式
// 属性存取，再加上生命周期独有的并发控制（每个 Domain 一把互斥锁，
// start/shutdown/kill/pause/unpause 拿这把锁检查并切换状态；remove 和
// 存储变更操作不拿这把锁）。
type Domain struct {
	property.Holder

	mu sync.Mutex

	QID     int
	UUID    uuid.UUID
	Name    string
	Variant Variant

	state State

	Volumes  map[string]storage.Volume
	Features *feature.Store
	Tags     *tag.Set
	Firewall *firewall.Config

	// Devices 按设备类别（usb、pci、block…）索引设备分配。
	Devices map[string][]device.Assignment
}

// domainType 用作 property 包注册表的键；所有 Domain 实例共享同一套
// Descriptor，和源码里"class-level descriptor, instance-level storage"
// 的关系完全对应。
var domainType = reflect.TypeOf((*Domain)(nil))

// Type exposes domainType to packages outside domain (the ext package's
// built-in extensions) that need to register class-level property event
// handlers via property.RegisterExtensionHandler.
func Type() reflect.Type { return domainType }

// New 构造一个新 Domain 并把它的 qid/uuid/name/variant 固定下来；
// qid 和 uuid 此后终生不变，name 只能通过 Rename 显式修改。
func New(qid int, name string, variant Variant) (*Domain, error) {
	if !nameRE.MatchString(name) {
		return nil, apierror.WrapError(apierror.ErrInvalidValue, "invalid domain name: "+name, nil)
	}
	d := &Domain{
		QID:      qid,
		UUID:     uuid.New(),
		Name:     name,
		Variant:  variant,
		state:    StateHalted,
		Volumes:  make(map[string]storage.Volume),
		Features: feature.New(),
		Tags:     tag.New(),
		Firewall: firewall.New(),
		Devices:  make(map[string][]device.Assignment),
	}
	d.Holder.Init(domainType)
	return d, nil
}

// Capabilities 返回这个 Domain 变体固定不变的能力集合。
func (d *Domain) Capabilities() Capabilities { return CapabilitiesFor(d.Variant) }

// State 返回当前观测到的生命周期状态。它自己获取 d.Lock() 背后的同一把
// 锁，因此不能在持有 d.Lock() 时调用。
func (d *Domain) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// setState 校验并应用一次状态转换；必须在持有 d.mu 期间调用。
func (d *Domain) setState(to State) error {
	if !CanTransition(d.state, to) {
		return apierror.WrapError(apierror.ErrWrongState,
			"cannot transition domain "+d.Name+" from "+string(d.state)+" to "+string(to), nil)
	}
	d.state = to
	return nil
}

// Lock 获取这个 Domain 的生命周期互斥锁。多个 Domain 的锁必须按 qid
// 升序获取，避免 template 启动期间与其它 Domain 启动互锁死锁
// （例如模板 start 发生在某个 AppVM start 之中）。
func (d *Domain) Lock() { d.mu.Lock() }

// Unlock 释放生命周期互斥锁。
func (d *Domain) Unlock() { d.mu.Unlock() }

// IsAdmin 报告这是不是唯一的 AdminVM（qid 恒为 0）。
func (d *Domain) IsAdmin() bool { return d.QID == 0 }
