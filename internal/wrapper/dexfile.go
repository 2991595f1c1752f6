package wrapper

import (
	"context"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/jnienv"
)

// DexFile is the script-facing facade over a .dex/.apk/.jar path returned by
// Factory.OpenClassFile. Neither Load nor GetClassNames special-case dex
// parsing: both drive java.io.File, dalvik.system.DexClassLoader,
// dalvik.system.DexFile, and android.app.ActivityThread through the
// factory's own use()/$new()/method-call machinery, exactly as the source
// does (spec 9, "Reflective self-hosting for DexFile").
type DexFile struct {
	factory *Factory
	path    string
}

// Load installs a dalvik.system.DexClassLoader over the facade's path as the
// factory's active class loader (spec 4.B "openClassFile(path).load()").
func (d *DexFile) Load(ctx context.Context) error {
	if err := d.checkExists(ctx); err != nil {
		return err
	}

	parent, err := d.currentClassLoader(ctx)
	if err != nil {
		return err
	}

	loaderClass, err := d.factory.Use(ctx, "dalvik.system.DexClassLoader")
	if err != nil {
		return err
	}
	// The optimizedDirectory parameter has been ignored by the runtime since
	// API 26; passed through for API symmetry with older loaders.
	loaderInstance, err := loaderClass.New(ctx, d.path, "", nil, parent)
	if err != nil {
		return err
	}

	// loadClass returns a java.lang.Class; cache its wrapper now, or casting
	// that result would resolve java.lang.Class through this same loader
	// again and again.
	if _, err := d.factory.Use(ctx, "java.lang.Class"); err != nil {
		return err
	}

	d.factory.SetLoader(func(ctx context.Context, env jnienv.Env, name string) (uint64, error) {
		result, err := loaderInstance.Call(ctx, env, d.factory, "loadClass", name)
		if err != nil {
			return 0, err
		}
		loaded, ok := result.(*ClassInstance)
		if !ok || loaded == nil {
			return 0, errs.New(errs.ClassNotFound, "loadClass(%s) returned no class", name)
		}
		return loaded.handle, nil
	})
	return nil
}

// currentClassLoader resolves the process's application class loader via
// android.app.ActivityThread.currentApplication().getClassLoader(), the
// parent every DexClassLoader must delegate to for framework classes to
// keep resolving.
func (d *DexFile) currentClassLoader(ctx context.Context) (*ClassInstance, error) {
	activityThread, err := d.factory.Use(ctx, "android.app.ActivityThread")
	if err != nil {
		return nil, err
	}
	appResult, err := activityThread.CallStatic(ctx, "currentApplication")
	if err != nil {
		return nil, err
	}
	app, ok := appResult.(*ClassInstance)
	if !ok || app == nil {
		return nil, errs.New(errs.ClassNotFound, "ActivityThread.currentApplication() returned null")
	}
	loaderResult, err := app.Call(ctx, d.factory.env, d.factory, "getClassLoader")
	if err != nil {
		return nil, err
	}
	loader, ok := loaderResult.(*ClassInstance)
	if !ok || loader == nil {
		return nil, errs.New(errs.ClassNotFound, "getClassLoader() returned null")
	}
	return loader, nil
}

func (d *DexFile) checkExists(ctx context.Context) error {
	fileClass, err := d.factory.Use(ctx, "java.io.File")
	if err != nil {
		return err
	}
	fileInstance, err := fileClass.New(ctx, d.path)
	if err != nil {
		return err
	}
	result, err := fileInstance.Call(ctx, d.factory.env, d.factory, "exists")
	if err != nil {
		return err
	}
	if exists, ok := result.(bool); ok && !exists {
		return errs.New(errs.ClassNotFound, "openClassFile: %s does not exist", d.path)
	}
	return nil
}

// GetClassNames enumerates path's class entries via
// dalvik.system.DexFile.entries() (spec 4.B
// "openClassFile(path).getClassNames()").
func (d *DexFile) GetClassNames(ctx context.Context) ([]string, error) {
	if err := d.checkExists(ctx); err != nil {
		return nil, err
	}

	dexFileClass, err := d.factory.Use(ctx, "dalvik.system.DexFile")
	if err != nil {
		return nil, err
	}
	dexFileInstance, err := dexFileClass.New(ctx, d.path)
	if err != nil {
		return nil, err
	}
	entriesResult, err := dexFileInstance.Call(ctx, d.factory.env, d.factory, "entries")
	if err != nil {
		return nil, err
	}
	enumeration, ok := entriesResult.(*ClassInstance)
	if !ok || enumeration == nil {
		return nil, errs.New(errs.NoSuchMember, "DexFile.entries() returned no enumeration")
	}

	var names []string
	for {
		more, err := enumeration.Call(ctx, d.factory.env, d.factory, "hasMoreElements")
		if err != nil {
			return nil, err
		}
		if hasMore, ok := more.(bool); !ok || !hasMore {
			break
		}
		next, err := enumeration.Call(ctx, d.factory.env, d.factory, "nextElement")
		if err != nil {
			return nil, err
		}
		name, ok := next.(string)
		if !ok {
			return nil, errs.New(errs.UnsupportedType, "DexFile entry was not a String")
		}
		names = append(names, name)
	}
	return names, nil
}
