package property

import "encoding/xml"

// PropertyXML 是单个属性在 qubes.xml 里的 on-wire 形状：
//
//	<name ref="none">value</name>
//
// ref="none" 标记一个 vm-ref 类型的属性显式地未设置（区别于"元素整个
// 不出现"这种同样表示未设置的写法；两者在读取时等价，写入时统一采用
// "不出现"）。
type PropertyXML struct {
	XMLName xml.Name `xml:""`
	Ref     string   `xml:"ref,attr,omitempty"`
	Value   string   `xml:",chardata"`
}

// EncodeStage 序列化 holderType 在给定 stage 声明的、且当前已被显式
// 赋值（非默认）的属性。持久化只写"被设置过"的值：默认值在加载时由
// Descriptor.Default 重新计算，不需要写盘。
func EncodeStage(h *Holder, stage Stage) ([]PropertyXML, error) {
	var out []PropertyXML
	for _, d := range Descriptors(h.holderType) {
		if d.Stage != stage {
			continue
		}
		isDefault, err := h.IsDefault(d.Name)
		if err != nil {
			return nil, err
		}
		if isDefault {
			continue
		}
		v, err := h.Get(d.Name)
		if err != nil {
			return nil, err
		}
		if d.Save == nil {
			continue
		}
		s, ok := d.Save(v)
		if !ok {
			continue
		}
		out = append(out, PropertyXML{XMLName: xml.Name{Local: d.Name}, Value: s})
	}
	return out, nil
}

// DecodeStage 把从 qubes.xml 读出的 <properties> 元素应用到 holder 上，
// 但只应用 Stage 字段与请求的 stage 相符的属性；其余留给后续阶段。
// 调用方（app 包的多阶段加载协调器）依次以 stage 1..5 调用本函数。
func DecodeStage(h *Holder, elems []PropertyXML, stage Stage) error {
	byName := make(map[string]PropertyXML, len(elems))
	for _, e := range elems {
		byName[e.XMLName.Local] = e
	}
	for _, d := range Descriptors(h.holderType) {
		if d.Stage != stage {
			continue
		}
		e, present := byName[d.Name]
		if !present || e.Ref == "none" {
			continue
		}
		if d.Load == nil {
			h.forceSet(d.Name, e.Value)
			continue
		}
		v, err := d.Load(e.Value)
		if err != nil {
			return err
		}
		h.forceSet(d.Name, v)
	}
	return nil
}
