package hypervisor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/qubesd/qubesd/internal/qubesd/domain"
)

// domainXMLTemplate renders the libvirt domain definition qubesd hands to
// Define/DomainDefineXML. Disk sources are written as pool:vid pairs
// rather than resolved filesystem paths — resolving a Config.VID to an
// on-disk path is a pool-driver-internal concern (see
// internal/qubesd/storage/filepool.Driver.path, unexported by design),
// so the hypervisor layer is expected to resolve the pair at attach time
// the same way qubes.xml itself only ever records pool/vid references.
const domainXMLTemplate = `<domain type='{{.DomainType}}'>
  <name>{{.Name}}</name>
  <uuid>{{.UUID}}</uuid>
  <memory unit='KiB'>{{.MaxMemKB}}</memory>
  <currentMemory unit='KiB'>{{.MemoryKB}}</currentMemory>
  <vcpu placement='static'>{{.VCPUs}}</vcpu>
  <os>
    <type arch='x86_64' machine='{{.Machine}}'>hvm</type>
    {{- if .Kernel}}
    <kernel>{{.Kernel}}</kernel>
    {{- end}}
    <boot dev='hd'/>
  </os>
  <devices>
    {{- range .Disks}}
    <disk type='volume' device='disk'>
      <driver name='qemu' type='raw'/>
      <source pool='{{.Pool}}' volume='{{.VID}}'/>
      <target dev='{{.Target}}' bus='xen'/>
      {{- if not .RW}}
      <readonly/>
      {{- end}}
    </disk>
    {{- end}}
    <interface type='ethernet'>
      <script path=''/>
    </interface>
    <console type='pty'/>
  </devices>
</domain>
`

// Machine/DomainType are fixed for the Xen-equivalent hypervisor target
// this generator assumes; a KVM-backed deployment would override these
// via a different built-in template rather than a parameter, since the
// device model differs too much to share one template.
const (
	defaultMachine    = "xenfv"
	defaultDomainType = "xen"
)

// overrideSearchPath lists, in priority order, the files a domain XML
// template override may be: the per-domain libvirt.xml.template under the
// store, "<name>.xml.template" in the store's templates directory, the
// system by-name "<name>.xml.template", then the shared system default
// xen.xml.template. Generate uses the first of these that exists, falling
// back to the built-in domainXMLTemplate only when none exists.
func overrideSearchPath(storePath, domainName string) []string {
	return []string{
		filepath.Join(storePath, "appvms", domainName, "libvirt.xml.template"),
		filepath.Join(storePath, "templates", domainName+".xml.template"),
		"/etc/qubes/templates/libvirt/by-name/" + domainName + ".xml.template",
		"/etc/qubes/templates/libvirt/xen.xml.template",
	}
}

type diskView struct {
	Pool   string
	VID    string
	Target string
	RW     bool
}

type templateView struct {
	DomainType string
	Name       string
	UUID       string
	MemoryKB   uint64
	MaxMemKB   uint64
	VCPUs      uint64
	Machine    string
	Kernel     string
	Disks      []diskView
}

// Generator implements domain.XMLGenerator against domainXMLTemplate (or
// an on-disk override), following the four-path search order
// overrideSearchPath documents.
type Generator struct {
	StorePath string
}

// NewGenerator returns a Generator rooted at storePath (the same
// directory Application.Save/Load use for qubes.xml).
func NewGenerator(storePath string) *Generator {
	return &Generator{StorePath: storePath}
}

// Generate renders d's libvirt domain definition, searching override
// paths before falling back to the built-in template.
func (g *Generator) Generate(d *domain.Domain) (string, error) {
	tmplText, err := g.loadTemplate(d.Name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New("domain").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("parse domain template for %s: %w", d.Name, err)
	}

	view, err := g.buildView(d)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render domain template for %s: %w", d.Name, err)
	}
	return buf.String(), nil
}

func (g *Generator) loadTemplate(name string) (string, error) {
	for _, path := range overrideSearchPath(g.StorePath, name) {
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read domain template override %s: %w", path, err)
		}
	}
	return domainXMLTemplate, nil
}

func (g *Generator) buildView(d *domain.Domain) (templateView, error) {
	memory, err := getUint(d, "memory")
	if err != nil {
		return templateView{}, err
	}
	vcpus, err := getUint(d, "vcpus")
	if err != nil {
		return templateView{}, err
	}
	maxmemKB, err := getUint(d, "maxmem")
	if err != nil {
		return templateView{}, err
	}
	kernel, _ := d.Get("kernel")
	kernelStr, _ := kernel.(string)

	view := templateView{
		DomainType: defaultDomainType,
		Name:       d.Name,
		UUID:       d.UUID.String(),
		MemoryKB:   memory,
		MaxMemKB:   maxmemKB,
		VCPUs:      vcpus,
		Machine:    defaultMachine,
		Kernel:     kernelStr,
	}

	targets := []string{"xvda", "xvdb", "xvdc", "xvdd"}
	i := 0
	for _, name := range []string{"root", "private", "volatile", "kernel"} {
		vol, ok := d.Volumes[name]
		if !ok {
			continue
		}
		cfg := vol.Config()
		target := "xvde"
		if i < len(targets) {
			target = targets[i]
		}
		i++
		view.Disks = append(view.Disks, diskView{Pool: cfg.Pool, VID: cfg.VID, Target: target, RW: cfg.RW})
	}
	return view, nil
}

func getUint(d *domain.Domain, name string) (uint64, error) {
	raw, err := d.Get(name)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", name, err)
	}
	v, ok := raw.(uint64)
	if !ok {
		return 0, fmt.Errorf("property %s is not a uint64 (got %T)", name, raw)
	}
	return v, nil
}
