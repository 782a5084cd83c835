// Package iconpack turns a set of themed launcher icons into an installable,
// signed icon pack APK.
//
// An Exporter runs the pipeline for one ExportSession:
//
//  1. the template APK is extracted into the session's scratch tree,
//  2. icons are written as res/drawable-nodpi-v4/icon_NNNN.png together with
//     optional iconback/iconmask/iconupon layers,
//  3. assets/appfilter.xml, assets/drawable.xml and optionally
//     assets/appfilter_unfiltered.xml are generated,
//  4. the tree is archived with STORED entries, aligned and signed.
//
// Which components an icon themes is decided by an ActivityResolver over a
// PackageQuery, with override and known-activity tables loaded from YAML.
//
// # Basic Usage
//
//	exp, err := iconpack.NewExporter(iconpack.Options{
//	    TemplatePath: "template.apk",
//	    KeystorePath: "release.p12",
//	    Query:        catalog,
//	})
//	s, err := exp.NewSession()
//	s.Icons.Add("com.android.chrome", chromePNG)
//	apk, err := exp.Export(ctx, s)
package iconpack
