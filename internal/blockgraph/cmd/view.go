package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"blockgraph/internal/analysis"
	"blockgraph/internal/blockgraph/config"
	"blockgraph/internal/blockgraph/styles"
	"blockgraph/internal/cfg"
	"blockgraph/internal/render"
	"blockgraph/internal/ui/colorize"
)

type viewMode int

const (
	viewBlocks viewMode = iota
	viewBlock
	viewSummary
)

func newViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view [file]",
		Short: "Browse the basic blocks of a binary interactively",
		Example: `
# Browse the blocks of a flat image
blockgraph view code.bin

# Browse an ELF executable from its entry point
blockgraph view --loader elf ./a.out
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := configFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			program := tea.NewProgram(
				newBrowser(c),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			)
			if _, err := program.Run(); err != nil {
				slog.Error("TUI run error", "error", err)
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}
}

// blockItem is one row of the block list.
type blockItem struct {
	bb     *cfg.BasicBlock
	symbol string
}

func (i blockItem) Title() string {
	if i.symbol != "" {
		return fmt.Sprintf("0x%x <%s>", i.bb.Start, i.symbol)
	}
	return fmt.Sprintf("0x%x", i.bb.Start)
}

func (i blockItem) Description() string { return "" }

func (i blockItem) FilterValue() string { return i.Title() }

type blockDelegate struct{}

func (d blockDelegate) Height() int                               { return 1 }
func (d blockDelegate) Spacing() int                              { return 0 }
func (d blockDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d blockDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(blockItem)
	if !ok {
		return
	}

	indicator := " "
	addrStyle := styles.Address
	if index == m.Index() {
		indicator = ">"
		addrStyle = styles.SelectedAddress
	}

	label := addrStyle.Render(fmt.Sprintf("%08x", i.bb.Start))
	if i.symbol != "" {
		label += " " + styles.Mnemonic.Render(i.symbol)
	}
	fmt.Fprintf(w, " %s  %s  %s", indicator, label,
		styles.Help.Render(fmt.Sprintf("%d insts, %d preds, %s",
			len(i.bb.Insts), len(i.bb.Preds), succList(i.bb.Successors()))))
}

func succList(succs []uint64) string {
	if len(succs) == 0 {
		return "no successors"
	}
	return "-> " + addrs(succs)
}

type analysisMsg struct {
	res *analysis.Result
	err error
}

func analyzeCmd(c config.Config) tea.Cmd {
	return func() tea.Msg {
		res, err := analysis.RunFile(c, nil)
		return analysisMsg{res: res, err: err}
	}
}

type browser struct {
	cfg     config.Config
	res     *analysis.Result
	err     error
	loading bool

	blocks  list.Model
	detail  viewport.Model
	summary viewport.Model
	spinner spinner.Model
	mode    viewMode

	width  int
	height int
}

func newBrowser(c config.Config) browser {
	blocks := list.New([]list.Item{}, blockDelegate{}, 80, 22)
	blocks.SetShowStatusBar(false)
	blocks.SetFilteringEnabled(true)
	blocks.Title = c.Input
	blocks.Styles.Title = styles.Title
	blocks.SetShowHelp(false)

	detail := viewport.New()
	detail.SetWidth(80)
	detail.SetHeight(22)

	summary := viewport.New()
	summary.SetWidth(80)
	summary.SetHeight(22)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	return browser{
		cfg:     c,
		loading: true,
		blocks:  blocks,
		detail:  detail,
		summary: summary,
		spinner: s,
		mode:    viewBlocks,
		width:   80,
		height:  24,
	}
}

func (m browser) Init() tea.Cmd {
	return tea.Batch(analyzeCmd(m.cfg), m.spinner.Tick)
}

func (m browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case analysisMsg:
		m.loading = false
		m.res, m.err = msg.res, msg.err
		if m.err == nil {
			m.fillBlocks()
			m.renderSummary()
		}
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.blocks.SetWidth(msg.Width)
			m.blocks.SetHeight(msg.Height - 2)
			m.detail.SetWidth(msg.Width)
			m.detail.SetHeight(msg.Height - 2)
			m.summary.SetWidth(msg.Width)
			m.summary.SetHeight(msg.Height - 2)
			m.renderSummary()
		}

	case tea.KeyMsg:
		if m.mode == viewBlocks && m.blocks.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			if m.mode == viewBlocks {
				if item, ok := m.blocks.SelectedItem().(blockItem); ok {
					m.detail.SetContent(m.blockText(item.bb))
					m.detail.GotoTop()
					m.mode = viewBlock
				}
			}
			return m, nil
		case "esc", "b":
			m.mode = viewBlocks
			return m, nil
		case "s":
			if m.res != nil {
				m.mode = viewSummary
			}
			return m, nil
		case "tab":
			if m.res != nil {
				m.mode = (m.mode + 1) % 3
				if m.mode == viewBlock {
					if item, ok := m.blocks.SelectedItem().(blockItem); ok {
						m.detail.SetContent(m.blockText(item.bb))
					}
				}
			}
			return m, nil
		}
	}

	switch m.mode {
	case viewBlock:
		m.detail, cmd = m.detail.Update(msg)
	case viewSummary:
		m.summary, cmd = m.summary.Update(msg)
	default:
		m.blocks, cmd = m.blocks.Update(msg)
	}
	return m, cmd
}

func (m browser) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s Analyzing %s\n", m.spinner.View(), m.cfg.Input)
	}
	if m.err != nil {
		return fmt.Sprintf("\n  %s\n\n  %s\n",
			styles.Dangling.Render("error: "+m.err.Error()),
			styles.Help.Render("q: quit"))
	}

	var content, menu string
	switch m.mode {
	case viewBlock:
		content = m.detail.View()
		menu = " B: blocks • S: summary • Tab: cycle • Q: quit "
	case viewSummary:
		content = m.summary.View()
		menu = " B: blocks • Tab: cycle • Q: quit "
	default:
		content = m.blocks.View()
		menu = " Enter: view block • /: filter • S: summary • Tab: cycle • Q: quit "
	}

	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

func (m *browser) fillBlocks() {
	opts := m.res.RenderOptions()
	starts := m.res.Graph.Starts()
	items := make([]list.Item, 0, len(starts))
	for _, start := range starts {
		item := blockItem{bb: m.res.Graph.Blocks[start]}
		if opts.Symbols != nil {
			if name, base := opts.Symbols(start); base == start {
				item.symbol = name
			}
		}
		items = append(items, item)
	}
	m.blocks.SetItems(items)
	m.blocks.Title = fmt.Sprintf("%s  %d blocks  %d dangling",
		m.cfg.Input, len(starts), len(m.res.Graph.Dangling()))
}

func (m *browser) renderSummary() {
	if m.res == nil {
		return
	}
	md := render.Summary(m.res.Graph, m.res.RenderOptions())
	if out, err := styles.RenderMarkdown(md, m.width); err == nil {
		md = out
	}
	m.summary.SetContent(md)
}

// blockText is the detail pane for one block: the colorized listing, then
// each predecessor instruction with the block holding it, then successors.
func (m *browser) blockText(bb *cfg.BasicBlock) string {
	arch := m.res.Arch
	color := colorize.Enabled()

	var b strings.Builder
	for _, line := range strings.Split(strings.TrimSuffix(bb.String(), "\n"), "\n") {
		if color {
			line = colorize.Line(line, arch)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	for _, p := range bb.Preds {
		from := fmt.Sprintf("<- 0x%x", p)
		if pb, ok := m.res.Graph.BlockOf(p); ok && pb.Start != p {
			from += fmt.Sprintf(" (block 0x%x)", pb.Start)
		}
		b.WriteString(styles.Help.Render(from))
		b.WriteByte('\n')
	}
	for _, s := range bb.Successors() {
		target := fmt.Sprintf("-> 0x%x", s)
		if _, ok := m.res.Graph.Block(s); ok {
			b.WriteString(styles.Operands.Render(target))
		} else {
			b.WriteString(styles.Dangling.Render(target + " (dangling)"))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func addrs(as []uint64) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = fmt.Sprintf("0x%x", a)
	}
	return strings.Join(parts, " ")
}
