package app

import "github.com/qubesd/qubesd/pkg/property"

func init() {
	reg := func(d *property.Descriptor) { property.Register(applicationType, d) }

	reg(&property.Descriptor{
		Name: "default_netvm", SemanticType: "vm", Stage: property.StageGlobal,
		Default: property.ConstDefault{Value: ""},
		Setter:  property.StringSetter, Save: property.StringSaver, Load: property.StringLoader,
		Doc: "新建 Domain 未显式设置 netvm 时继承的默认网络提供者。",
	})
	reg(&property.Descriptor{
		Name: "default_pool", SemanticType: "str", Stage: property.StageGlobal,
		Default: property.ConstDefault{Value: "varlibqubes"},
		Setter:  property.StringSetter, Save: property.StringSaver, Load: property.StringLoader,
		Doc: "默认存储池名，随 qubes.xml 持久化；CreateDomain 不读取它，未显式指定 pool 时使用的是常量 DefaultPoolName。",
	})
	reg(&property.Descriptor{
		Name: "default_kernel", SemanticType: "str", Stage: property.StageGlobal,
		Default: property.ConstDefault{Value: ""},
		Setter:  property.StringSetter, Save: property.StringSaver, Load: property.StringLoader,
		Doc: "新建 Domain 未显式覆盖 kernel 时使用的默认内核版本。",
	})
	reg(&property.Descriptor{
		Name: "clockvm", SemanticType: "vm", Stage: property.StageGlobal,
		Default: property.ConstDefault{Value: ""},
		Setter:  property.StringSetter, Save: property.StringSaver, Load: property.StringLoader,
		Doc: "负责同步时钟的 Domain 名；空字符串表示没有专门的 clockvm。",
	})
}
