package jsvm

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/zackorndorff/idapython/extlang"
)

// BridgeVersion 是脚本桥对脚本公开的 API 版本。
const BridgeVersion = "1.4.0"

// 脚本可以在头部声明版本约束，满足其中任一兼容版本即可加载。
var apiVersions = []*semver.Version{
	semver.MustParse("1.3.0"),
	semver.MustParse(BridgeVersion),
}

const requiresHeader = "// requires:"

// 只在文件起始的少数几行里找版本声明
const requiresScanLines = 8

// loader 负责整文件加载：读盘、版本门禁、esbuild 转译、重载登记。
// esbuild 负责 TypeScript 与过新语法的降级（ES2015 目标），
// 顶层词法声明再由 lowerTopLevelDecls 放平成 var：
// 同一文件重跑时对全局绑定做的是合法的重声明，旧定义被替换而不是报错，
// 这正是"重载更新而非复制"的语义来源。
type loader struct {
	sanitize bool

	mu     sync.Mutex
	loaded map[string]int
}

func newLoader(sanitize bool) *loader {
	return &loader{sanitize: sanitize, loaded: map[string]int{}}
}

// Load 读取并转译一个脚本文件，返回用作源名的路径、可执行代码，
// 以及该文件是否属于重复加载。
func (l *loader) Load(path string) (string, string, bool, error) {
	name := path
	if l.sanitize {
		name = filepath.ToSlash(filepath.Clean(path))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", false, extlang.WrapError(extlang.ErrUsage,
			errors.Wrap(err, "读取脚本失败"), "无法读取脚本 %s", name)
	}
	src := string(raw)
	if err := checkRequires(src); err != nil {
		return "", "", false, err
	}

	srcLoader := esbuild.LoaderJS
	if strings.EqualFold(filepath.Ext(path), ".ts") {
		srcLoader = esbuild.LoaderTS
	}
	compiled := esbuild.Transform(src, esbuild.TransformOptions{
		Loader: srcLoader,
		Target: esbuild.ES2015,
	})
	if len(compiled.Errors) > 0 {
		var msg strings.Builder
		for _, e := range compiled.Errors {
			msg.WriteString(e.Text)
			msg.WriteString("; ")
		}
		return "", "", false, extlang.NewError(extlang.ErrRuntime,
			"脚本解析失败(%s): %s", name, strings.TrimSuffix(msg.String(), "; "))
	}

	l.mu.Lock()
	l.loaded[name]++
	reloaded := l.loaded[name] > 1
	l.mu.Unlock()
	return name, lowerTopLevelDecls(string(compiled.Code)), reloaded, nil
}

func isIdentStartByte(c byte) bool {
	return c == '_' || c == '$' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStartByte(c) || ('0' <= c && c <= '9')
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// 上一个有效字符是这些时，'/' 开启的是正则字面量而不是除法。
const regexPrecede = "(,=:[!&|?{};<>+-*%~^"

// 上一个有效字符是这些时，当前词元处于语句起始位置。
func atStmtStart(prevSig byte) bool {
	return prevSig == 0 || prevSig == ';' || prevSig == '}'
}

// scanFrame 是扫描器的嵌套帧：模板字面量里的 ${} 可以再嵌任意代码。
type scanFrame struct {
	template bool
	depth    int
}

// lowerTopLevelDecls 把顶层词法声明改写为 var 声明。
// let/const/class 在全局作用域产生不可重复声明的绑定，重跑同一文件
// 会直接报重复声明错误；改写后（类声明改写为 var X = class X）重跑
// 就是合法的重声明。只处理顶层：函数体、块、循环头里的词法声明
// 本来就不冲突，原样保留。输入是 esbuild 的规整输出，
// 字符串、模板、注释与正则字面量都会被整体跳过。
func lowerTopLevelDecls(src string) string {
	var b strings.Builder
	b.Grow(len(src) + 16)

	frames := []scanFrame{{}}
	var prevSig byte
	// 改写过的顶层类声明在类体结束处补分号，避免下一条语句被 ASI 并入
	awaitClassBrace := false
	inClassBody := false

	i := 0
	for i < len(src) {
		f := &frames[len(frames)-1]
		c := src[i]

		if f.template {
			switch {
			case c == '\\' && i+1 < len(src):
				b.WriteString(src[i : i+2])
				i += 2
			case c == '`':
				b.WriteByte(c)
				i++
				frames = frames[:len(frames)-1]
				prevSig = '`'
			case c == '$' && i+1 < len(src) && src[i+1] == '{':
				b.WriteString("${")
				i += 2
				frames = append(frames, scanFrame{})
				prevSig = '{'
			default:
				b.WriteByte(c)
				i++
			}
			continue
		}

		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			j := strings.IndexByte(src[i:], '\n')
			if j < 0 {
				j = len(src) - i
			}
			b.WriteString(src[i : i+j])
			i += j
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			j := strings.Index(src[i+2:], "*/")
			if j < 0 {
				j = len(src) - i - 4
			}
			b.WriteString(src[i : i+j+4])
			i += j + 4
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(src) {
				if src[j] == '\\' {
					j += 2
					continue
				}
				if src[j] == c {
					j++
					break
				}
				j++
			}
			b.WriteString(src[i:j])
			prevSig = c
			i = j
		case c == '`':
			b.WriteByte(c)
			i++
			frames = append(frames, scanFrame{template: true})
		case c == '/' && (prevSig == 0 || strings.IndexByte(regexPrecede, prevSig) >= 0):
			j := i + 1
			inClass := false
			for j < len(src) && src[j] != '\n' {
				if src[j] == '\\' {
					j += 2
					continue
				}
				if src[j] == '[' {
					inClass = true
				} else if src[j] == ']' {
					inClass = false
				} else if src[j] == '/' && !inClass {
					j++
					break
				}
				j++
			}
			b.WriteString(src[i:j])
			prevSig = '/'
			i = j
		case c == '{' || c == '(' || c == '[':
			if awaitClassBrace && c == '{' && f.depth == 0 {
				awaitClassBrace = false
				inClassBody = true
			}
			f.depth++
			b.WriteByte(c)
			prevSig = c
			i++
		case c == '}' && f.depth == 0 && len(frames) > 1:
			// ${} 结束，回到模板字面量
			b.WriteByte(c)
			i++
			frames = frames[:len(frames)-1]
		case c == '}' || c == ')' || c == ']':
			if f.depth > 0 {
				f.depth--
			}
			b.WriteByte(c)
			prevSig = c
			if c == '}' && inClassBody && f.depth == 0 && len(frames) == 1 {
				b.WriteByte(';')
				prevSig = ';'
				inClassBody = false
			}
			i++
		case isIdentStartByte(c):
			j := i
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			word := src[i:j]
			if len(frames) == 1 && f.depth == 0 && atStmtStart(prevSig) {
				switch word {
				case "let", "const":
					b.WriteString("var")
					prevSig = 'r'
					i = j
					continue
				case "class":
					k := j
					for k < len(src) && isSpaceByte(src[k]) {
						k++
					}
					m := k
					for m < len(src) && isIdentByte(src[m]) {
						m++
					}
					if m > k {
						name := src[k:m]
						b.WriteString("var ")
						b.WriteString(name)
						b.WriteString(" = class ")
						b.WriteString(name)
						awaitClassBrace = true
						prevSig = name[len(name)-1]
						i = m
						continue
					}
				}
			}
			b.WriteString(word)
			prevSig = word[len(word)-1]
			i = j
		default:
			b.WriteByte(c)
			if !isSpaceByte(c) {
				prevSig = c
			}
			i++
		}
	}
	return b.String()
}

// checkRequires 校验脚本头部的 "// requires:" 版本约束。
func checkRequires(src string) error {
	lines := strings.SplitN(src, "\n", requiresScanLines+1)
	if len(lines) > requiresScanLines {
		lines = lines[:requiresScanLines]
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, requiresHeader) {
			continue
		}
		want := strings.TrimSpace(strings.TrimPrefix(trimmed, requiresHeader))
		if want == "" {
			return nil
		}
		constraint, err := semver.NewConstraint(want)
		if err != nil {
			return extlang.NewError(extlang.ErrUsage,
				"脚本版本约束格式不正确，应满足 semver 范围语法，当前为「%s」", want)
		}
		_, ok := lo.Find(apiVersions, func(v *semver.Version) bool {
			return constraint.Check(v)
		})
		if !ok {
			return extlang.NewError(extlang.ErrUsage,
				"脚本要求的版本「%s」与当前桥版本 %s 不兼容", want, BridgeVersion)
		}
		return nil
	}
	return nil
}

// 随宿主一同发布的启动脚本名。工作目录里出现同名文件时，
// 自动加载会优先命中它而不是发布版本，需要显式提醒。
var autoScriptNames = []string{
	"idapythonrc.js",
	"onload.js",
	"init.js",
}

func alertAutoScripts(log *zap.SugaredLogger) {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	for _, name := range autoScriptNames {
		p := filepath.Join(cwd, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			log.Warnf("当前目录存在自动加载脚本 %s，它会在启动时被优先执行", name)
		}
	}
}

// sanitizeFolders 整理模块搜索路径：按平台分隔符拆分并丢弃空项。
func sanitizeFolders(moduleDir string) []string {
	parts := strings.Split(moduleDir, string(os.PathListSeparator))
	return lo.Filter(parts, func(p string, _ int) bool {
		return strings.TrimSpace(p) != ""
	})
}
