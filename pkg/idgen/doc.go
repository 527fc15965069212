// Package idgen 提供递增 ID 生成器
//
// 使用 Sonyflake 算法生成全局唯一且递增的 ID。
// Sonyflake 是 Snowflake 算法的改进版本，生成的 ID 具有以下特性：
//   - 全局唯一
//   - 时间有序（递增）
//   - 64 位整数
//   - 分布式友好
//
// qubesd 里唯一消费这个包的地方是 DispVM 的派生名分配
// （app.Application.CreateDispVM）：
//   - DispVM 名: disp{递增数字}
//
// 使用方式：
//
// 方式一：使用包级别的便捷函数（推荐，使用默认生成器）
//
//	name, err := idgen.GenerateDispVMName()
//	// name: "disp1234567890"
//
// 方式二：使用默认生成器
//
//	gen := idgen.DefaultGenerator()
//	name, err := gen.GenerateDispVMName()
//
// 方式三：创建自定义生成器
//
//	gen := idgen.New()
//	name, err := gen.GenerateDispVMName()
package idgen
