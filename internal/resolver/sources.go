package resolver

// Input describes what to resolve for a single build
type Input struct {
	Root       string
	Rules      Rules
	Asm        bool // also discover assembly sources
	SystemDirs []string
	UserDirs   []string
}

// Sources holds the file sets of a build, each sorted by path
type Sources struct {
	C              []string
	Asm            []string
	ProjectIncDirs []string
	SystemIncDirs  []string
	UserIncDirs    []string

	// system and user include bases that were configured but not found
	Missing []string
}

func Resolve(in Input) (*Sources, error) {
	cfiles, err := Discover(in.Root, ExtC, in.Rules)
	if err != nil {
		return nil, err
	}
	headers, err := Discover(in.Root, ExtHeader, in.Rules)
	if err != nil {
		return nil, err
	}

	src := &Sources{
		C:              cfiles.Sorted(),
		ProjectIncDirs: IncludeDirsOf(headers).Sorted(),
	}

	if in.Asm {
		asm, err := Discover(in.Root, ExtAsm, in.Rules)
		if err != nil {
			return nil, err
		}
		src.Asm = asm.Sorted()
	}

	sys, err := SystemIncludeDirs(in.SystemDirs)
	if err != nil {
		return nil, err
	}
	src.SystemIncDirs = sys.Set.Sorted()
	src.Missing = append(src.Missing, sys.Missing...)

	user, err := SystemIncludeDirs(in.UserDirs)
	if err != nil {
		return nil, err
	}
	src.UserIncDirs = user.Set.Sorted()
	src.Missing = append(src.Missing, user.Missing...)

	return src, nil
}
