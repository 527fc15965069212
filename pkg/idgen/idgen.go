package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// Generator 生成全局唯一且时间递增的 ID。
// 底层用 Sonyflake 算法（Snowflake 的改进版），DispVM 的派生名就是从这
// 个递增序列里取号，而不是显式维护一个“空闲名集合”。
type Generator struct {
	sf *sonyflake.Sonyflake
}

var (
	defaultGenerator     *Generator
	defaultGeneratorOnce sync.Once
)

// initDefaultGenerator 初始化默认生成器
func initDefaultGenerator() {
	defaultGenerator = New()
}

// DefaultGenerator 返回进程级共享的生成器。
func DefaultGenerator() *Generator {
	defaultGeneratorOnce.Do(initDefaultGenerator)
	return defaultGenerator
}

// New 创建新的 ID 生成器
func New() *Generator {
	// 使用默认设置创建 Sonyflake
	// 如果需要自定义机器 ID，可以通过 Settings 配置
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), // 起始时间
	})
	if sf == nil {
		// 如果创建失败，使用当前时间作为起始时间
		sf = sonyflake.NewSonyflake(sonyflake.Settings{
			StartTime: time.Now(),
		})
	}

	return &Generator{
		sf: sf,
	}
}

// GenerateID 生成通用递增 ID
func (g *Generator) GenerateID() (uint64, error) {
	return g.sf.NextID()
}

// GenerateDispVMName 为一次性 DispVM 派生一个名字：真实 qubesd 把这个
// 叫做"从一个小的空闲集合里自动分配"，这里用递增 ID 取代显式维护的
// 空闲名集合，保证同一进程内永不重名。qid 仍然照常通过
// domain.QIDAllocator 单独分配（见 app.Application.CreateDispVM）。
func (g *Generator) GenerateDispVMName() (string, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return "", fmt.Errorf("generate dispvm name: %w", err)
	}
	return fmt.Sprintf("disp%d", id), nil
}

// GenerateID 使用默认生成器生成通用递增 ID
func GenerateID() (uint64, error) {
	return DefaultGenerator().GenerateID()
}

// GenerateDispVMName 使用默认生成器生成一个 DispVM 派生名
func GenerateDispVMName() (string, error) {
	return DefaultGenerator().GenerateDispVMName()
}
